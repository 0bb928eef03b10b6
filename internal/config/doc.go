// Package config loads the newsbot configuration from YAML or JSON, expands
// ${VAR} references and watches the file for hot reload.
package config
