package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	logx "newsbot/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ConfigManager owns the committed configuration and fans reloads out to
// subscribers.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64
	log      logx.Logger
	check    func(ctx context.Context, cfg *Config) error

	subMu  sync.Mutex
	subs   map[int]chan *Config
	nextID int
}

// NewConfigManager reads path. An empty path yields Default() plus the
// environment.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: strings.TrimSpace(path), log: logx.Nop(), subs: map[int]chan *Config{}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *ConfigManager) logger() logx.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log
}

// SetValidator adds a check that runs after Config.Validate on Load and on
// every reload. A rejected reload keeps the committed config.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.mu.Lock()
	m.check = fn
	m.mu.Unlock()
}

// Parse reads and decodes the file onto Default() without committing it.
// Unknown keys and trailing documents are errors.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := Default()
	if m.path != "" {
		if err := decodeFile(m.path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvDefaults(cfg)
	return cfg, nil
}

func decodeFile(path string, dst *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data := expandEnv(raw)
	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return fmt.Errorf("%s: trailing data", path)
	default:
		return fmt.Errorf("%s: %w", path, err)
	}
}

func (m *ConfigManager) validate(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.RLock()
	check := m.check
	m.mu.RUnlock()
	if check == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	return check(ctx, cfg)
}

// Load parses, validates and commits. It is the startup path.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.validate(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg current without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	h := hashConfig(cfg)
	m.mu.Lock()
	m.cfg, m.lastHash = cfg, h
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the file. It reports false without error when the decoded
// content equals the committed config.
func (m *ConfigManager) Reload(ctx context.Context) (bool, error) {
	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	if err := m.validate(ctx, cfg); err != nil {
		return false, fmt.Errorf("config rejected: %w", err)
	}
	m.Commit(cfg)
	m.broadcast(cfg)
	return true, nil
}

// Subscribe returns a channel that receives every committed reload. When
// the subscriber lags, older pending configs are replaced by the newest.
// cancel closes the channel.
func (m *ConfigManager) Subscribe(buffer int) (updates <-chan *Config, cancel func()) {
	ch := make(chan *Config, max(1, buffer))
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *ConfigManager) broadcast(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// full: discard the oldest pending config and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
