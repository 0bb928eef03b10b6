// Package logx is newsbot's structured logging on top of zerolog.
//
// Loggers are values with fixed fields (comp=scheduler, channel=discord)
// and carry a short caller. A Service owns the console, JSON file and alert
// sinks and can be reconfigured while the bot runs. The alert sink forwards
// warnings to a broadcast channel without ever blocking the caller.
package logx
