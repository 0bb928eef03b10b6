package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertConfig forwards entries at or above MinLevel to a chat.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string // default warn
	RatePerSec int    // default 1
}

// Sender delivers a rendered alert. channel.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

const (
	alertQueueSize   = 64
	alertSendTimeout = 10 * time.Second
	// fits both Discord (2000) and Telegram (4096) after escaping
	alertMaxLen = 1800
	alertMaxVal = 400
)

// keys shown first in an alert, in this order
var alertLeadKeys = []string{"channel", "url", errKey}

type alert struct {
	chatID string
	text   string
}

// alertSink is a zerolog.LevelWriter that never blocks the logging call:
// entries go through a token bucket into a bounded queue drained by one
// worker.
type alertSink struct {
	mu       sync.Mutex
	sender   Sender
	chatID   string
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan alert
	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newAlertSink() *alertSink {
	return &alertSink{
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan alert, alertQueueSize),
		done:     make(chan struct{}),
	}
}

func (a *alertSink) target(sender Sender, chatID string) {
	a.mu.Lock()
	a.sender, a.chatID = sender, chatID
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
	if cfg.Enabled {
		a.startOnce.Do(a.start)
	}
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.run(ctx)
}

func (a *alertSink) stop() {
	a.stopOnce.Do(func() {
		started := false
		a.startOnce.Do(func() {}) // blocks a late start
		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
			started = true
		}
		a.mu.Unlock()
		if started {
			<-a.done
		}
	})
}

func (a *alertSink) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.queue:
			a.mu.Lock()
			sender := a.sender
			a.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			// a failed alert is not logged: it would feed back into the sink
			_ = sender.Send(sctx, m.chatID, m.text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	chatID, sender, lim, minLevel := a.chatID, a.sender, a.limiter, a.minLevel
	a.mu.Unlock()

	if chatID == "" || sender == nil || level < minLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		a.dropped.Add(1)
		return len(p), nil
	}
	text := formatAlert(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case a.queue <- alert{chatID: chatID, text: text}:
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

// formatAlert turns a JSON entry into "[LEVEL] message" followed by one
// "- key=value" line per field: channel, url and err first, the rest sorted.
func formatAlert(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, alertMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	var rest []string
	for k := range m {
		switch k {
		case "time", "level", "message", callerKey:
			continue
		}
		if !slices.Contains(alertLeadKeys, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	for _, k := range append(slices.Clone(alertLeadKeys), rest...) {
		v, ok := m[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(v), alertMaxVal))
	}
	return clip(b.String(), alertMaxLen)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
