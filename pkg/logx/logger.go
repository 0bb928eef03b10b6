package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	timeFormat = "2006-01-02T15:04:05.000Z07:00"
	errKey     = "err"
)

var callerKey = zerolog.CallerFieldName

// Logger is passed by value. A Logger obtained from a Service follows every
// Service.Apply; the zero value discards everything.
type Logger struct {
	svc    *Service
	fixed  *zerolog.Logger
	fields []Field
}

// Nop never writes.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{fixed: &zl}
}

// NewConsole logs human-readable lines to stdout without a Service. The CLI
// uses it for commands that do not start the bot.
func NewConsole(level string) Logger {
	zl := zerolog.New(consoleWriter(os.Stdout)).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{fixed: &zl}
}

// NewWriter logs JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.fields) == 0 }

// With returns a child logger that adds fields to every entry.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(l.fields[:len(l.fields):len(l.fields)], fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.fixed != nil:
		return *l.fixed
	default:
		return zerolog.Nop()
	}
}

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// emit <- Debug/Info/... <- caller
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(callerKey, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, group := range [2][]Field{l.fields, fields} {
		for _, f := range group {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
