package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alerts  AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./newsbot.log"

// Service owns the sinks. Loggers taken from it pick up Apply immediately.
type Service struct {
	mu    sync.Mutex
	file  *os.File
	alert *alertSink

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg and returns its root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{alert: newAlertSink()}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetAlertTarget routes alerts to chatID through sender. An empty chatID
// or a nil sender disables forwarding.
func (s *Service) SetAlertTarget(sender Sender, chatID string) {
	s.alert.target(sender, strings.TrimSpace(chatID))
}

// AlertsDropped counts alerts lost to rate limiting or a full queue.
func (s *Service) AlertsDropped() uint64 { return s.alert.dropped.Load() }

// Apply rebuilds the sinks. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	s.alert.configure(cfg.Alerts)
	if cfg.Alerts.Enabled {
		sinks = append(sinks, s.alert)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stderr))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	// the previous file is closed only after no new entry can reach it
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the alert worker and closes the log file.
func (s *Service) Close() error {
	s.alert.stop()
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}
