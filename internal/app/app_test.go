package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"newsbot/internal/bootstrap"
	"newsbot/internal/config"
	"newsbot/internal/ledger"
	"newsbot/internal/scheduler"
	logx "newsbot/pkg/logx"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sec Feed</title>
<item><title>One</title><link>https://f/1</link><pubDate>Wed, 01 May 2024 10:00:00 GMT</pubDate></item>
<item><title>Two</title><link>https://f/2</link><pubDate>Wed, 01 May 2024 09:00:00 GMT</pubDate></item>
</channel></rss>`

type fakeBot struct {
	mu   sync.Mutex
	sent []string
}

func (b *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getChat"):
		if strings.Contains(string(body), "-100404") {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":-100123,"type":"channel","title":"news"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		b.mu.Lock()
		b.sent = append(b.sent, string(body))
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100123,"type":"channel"}}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (b *fakeBot) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type fixture struct {
	dir  string
	bot  *fakeBot
	path string
}

func newFixture(t *testing.T, chatID string) *fixture {
	t.Helper()
	bot := &fakeBot{}
	botSrv := httptest.NewServer(bot)
	t.Cleanup(botSrv.Close)
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, testFeed)
	}))
	t.Cleanup(feedSrv.Close)

	dir := t.TempDir()
	yaml := `sources:
  limit: 5
  newsapi:
    api_key: ""
  fallback:
    kind: rss
    url: ` + feedSrv.URL + `
    source_name: Sec Feed
channels:
  telegram:
    enabled: true
    token: "123:abc"
    chat_id: "` + chatID + `"
    api_url: ` + botSrv.URL + `
  discord:
    enabled: false
dispatch:
  attempts: 1
  retry_delay: 10ms
  rate_per_sec: -1
loop:
  schedule: 1h
  item_delay: "0"
storage:
  driver: file
  path: ` + filepath.Join(dir, "news.jsonl") + `
logging:
  level: error
  console: false
systemd:
  notify: false
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &fixture{dir: dir, bot: bot, path: path}
}

func (f *fixture) app(t *testing.T) *App {
	t.Helper()
	a, err := New(config.NewConfigManager(f.path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func (f *fixture) ledgerCount(t *testing.T) int64 {
	t.Helper()
	led, err := ledger.Open(ledger.Config{Driver: "file", Path: filepath.Join(f.dir, "news.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer led.Close()
	n, err := led.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestOnceDeliversAndCommits(t *testing.T) {
	f := newFixture(t, "-100123")
	a := f.app(t)

	rep, err := a.Once(context.Background())
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if rep.Collected != 2 || rep.Committed != 2 || rep.ChannelFailures != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if f.bot.count() != 2 {
		t.Fatalf("sendMessage calls = %d, want 2", f.bot.count())
	}
	if n := f.ledgerCount(t); n != 2 {
		t.Fatalf("ledger rows = %d, want 2", n)
	}

	// second run: everything already recorded
	rep, err = f.app(t).Once(context.Background())
	if err != nil {
		t.Fatalf("second Once: %v", err)
	}
	if rep.Fresh != 0 || f.bot.count() != 2 {
		t.Fatalf("duplicates were sent again: %+v, sends=%d", rep, f.bot.count())
	}
}

func TestValidationFailureStopsBeforeCollecting(t *testing.T) {
	f := newFixture(t, "-100404")
	a := f.app(t)

	err := a.Check(context.Background())
	var verr *bootstrap.ValidationError
	if !errors.As(err, &verr) || verr.Channel != "telegram" {
		t.Fatalf("Check = %v, want telegram ValidationError", err)
	}
	if err := a.Run(context.Background()); !errors.As(err, &verr) {
		t.Fatalf("Run = %v, want ValidationError", err)
	}
	if f.bot.count() != 0 {
		t.Fatalf("sent %d messages after failed validation", f.bot.count())
	}
	if n := f.ledgerCount(t); n != 0 {
		t.Fatalf("ledger rows = %d, want 0", n)
	}
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	f := newFixture(t, "-100123")
	a := f.app(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for f.bot.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.bot.count() != 2 {
		t.Fatalf("first tick sent %d messages", f.bot.count())
	}
	for a.committed.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.committed.Load() != 2 || a.sent.Load() != 2 {
		t.Fatalf("event counters: sent=%d committed=%d", a.sent.Load(), a.committed.Load())
	}
}

func TestApplyHotReloadsLoop(t *testing.T) {
	f := newFixture(t, "-100123")
	a := f.app(t)
	led, loop, err := a.openLoop()
	if err != nil {
		t.Fatalf("openLoop: %v", err)
	}
	defer led.Close()

	prev := a.cfgm.Get()
	next := *prev
	next.Loop.Schedule = "*/5 * * * *"
	next.Storage.Driver = "sqlite"

	events, unsubscribe := a.bus.Subscribe(4)
	defer unsubscribe()
	a.apply(prev, &next)

	sched, _ := loopSettings(loop)
	if !strings.HasPrefix(sched, "cron") {
		t.Fatalf("schedule not applied: %s", sched)
	}
	select {
	case e := <-events:
		applied, _ := e.Data.([]string)
		if len(applied) != 1 || applied[0] != "loop" {
			t.Fatalf("unexpected reload event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no config.reloaded event")
	}
}

func loopSettings(l *scheduler.Loop) (string, time.Duration) {
	s, d := l.Settings()
	return s.String(), d
}

func TestMapLoop(t *testing.T) {
	t.Parallel()
	cases := []struct {
		schedule, delay string
		wantDelay       time.Duration
		wantErr         bool
	}{
		{"", "", scheduler.DefaultItemDelay, false},
		{"30m", "0", -1, false},
		{"3600", "250ms", 250 * time.Millisecond, false},
		{"bogus", "", 0, true},
		{"1h", "-1s", 0, true},
	}
	for _, tc := range cases {
		cfg := config.Default()
		cfg.Loop = config.LoopConfig{Schedule: tc.schedule, ItemDelay: tc.delay}
		_, d, err := mapLoop(cfg)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q/%q: err = %v", tc.schedule, tc.delay, err)
		}
		if err == nil && d != tc.wantDelay {
			t.Fatalf("%q/%q: delay = %v, want %v", tc.schedule, tc.delay, d, tc.wantDelay)
		}
	}
}

func TestMapLedgerDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	if got := MapLedger(cfg); got.Path != defaultLedgerPath || got.Driver != "" {
		t.Fatalf("sqlite default = %+v", got)
	}
	cfg.Storage.Driver = "FILE"
	if got := MapLedger(cfg); got.Path != defaultJournal || got.Driver != "file" {
		t.Fatalf("file default = %+v", got)
	}
}

func TestAlertTargetEscapesForTelegram(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "-100123")
	cfg, err := config.NewConfigManager(f.path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	targets, err := buildTargets(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("buildTargets: %v", err)
	}
	if _, _, ok := alertTarget(cfg, targets); ok {
		t.Fatal("alerts disabled but a target was returned")
	}
	cfg.Logging.Alerts = config.LoggingAlerts{Enabled: true, Channel: "telegram", ChatID: "-100999"}
	s, chat, ok := alertTarget(cfg, targets)
	if !ok || chat != "-100999" {
		t.Fatalf("alertTarget = %v %q %v", s, chat, ok)
	}
	if err := s.Send(context.Background(), chat, "[ERROR] a<b"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.bot.mu.Lock()
	defer f.bot.mu.Unlock()
	if len(f.bot.sent) != 1 || !strings.Contains(f.bot.sent[0], "a\\u0026lt;b") && !strings.Contains(f.bot.sent[0], "a&lt;b") {
		t.Fatalf("alert not escaped: %v", f.bot.sent)
	}
	cfg.Logging.Alerts.Channel = "discord"
	if _, _, ok := alertTarget(cfg, targets); ok {
		t.Fatal("discord alert target returned while discord is disabled")
	}
}

func TestBuildSourcesDefaultsToTenItems(t *testing.T) {
	t.Parallel()
	pageSize := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case pageSize <- r.URL.Query().Get("pageSize"):
		default:
		}
		var arts []string
		for i := 0; i < 15; i++ {
			arts = append(arts, fmt.Sprintf(`{"source":{"name":"S"},"title":"T%d","url":"https://n/%d","publishedAt":"2024-05-01T10:00:00Z"}`, i, i))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok","articles":[`+strings.Join(arts, ",")+`]}`)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Sources.Limit = 0
	cfg.Sources.NewsAPI.APIKey = "k"
	cfg.Sources.NewsAPI.Endpoint = srv.URL
	cfg.Sources.Fallback.Kind = "none"

	items := buildSources(cfg, logx.Nop()).Collect(context.Background())
	if got := <-pageSize; got != "10" {
		t.Fatalf("pageSize = %q, want 10", got)
	}
	if len(items) != 10 {
		t.Fatalf("collected %d items, want 10", len(items))
	}
}
