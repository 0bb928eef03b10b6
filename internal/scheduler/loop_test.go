package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"newsbot/internal/channel"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/ledger"
	"newsbot/internal/news"
	logx "newsbot/pkg/logx"
)

func mk(u string) news.Item {
	return news.Item{URL: u, Title: "title " + u, Source: "S", PublishedAt: "2024-05-01T10:00:00Z"}
}

type batches struct {
	mu    sync.Mutex
	ticks [][]news.Item
	calls int
}

func (b *batches) Collect(ctx context.Context) []news.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.ticks) == 0 {
		return nil
	}
	next := b.ticks[0]
	b.ticks = b.ticks[1:]
	return next
}

type memLedger struct {
	mu         sync.Mutex
	rows       map[string]ledger.Record
	calls      int
	existsErr  map[string]error
	recordErr  error
	forceDupes bool
}

func newMemLedger() *memLedger { return &memLedger{rows: map[string]ledger.Record{}} }

func (m *memLedger) Exists(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.existsErr[url]; err != nil {
		return false, err
	}
	_, ok := m.rows[url]
	return ok, nil
}

func (m *memLedger) Record(ctx context.Context, r ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.recordErr != nil {
		return m.recordErr
	}
	if _, ok := m.rows[r.URL]; ok || m.forceDupes {
		return ledger.ErrDuplicate
	}
	m.rows[r.URL] = r
	return nil
}

func (m *memLedger) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memLedger) Close() error { return nil }

type client struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *client) Validate(ctx context.Context, chatID string) error { return c.err }

func (c *client) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return c.err
}

func (c *client) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func fastDispatcher() *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{Attempts: 3, RetryDelay: time.Millisecond, SendTimeout: time.Second, RatePerSec: -1}, logx.Nop(), nil)
}

func noSleep(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }

func newTestLoop(src Collector, led ledger.Ledger, out Broadcaster, targets []channel.Target) *Loop {
	return NewLoop(src, led, out, nil, targets, Options{Log: logx.Nop(), ItemDelay: -1, sleep: noSleep})
}

func TestTwoTicksDeliverOnlyNewItems(t *testing.T) {
	t.Parallel()
	led, err := ledger.Open(ledger.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "articles.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer led.Close()

	tg, dc := &client{}, &client{}
	targets := []channel.Target{
		{Name: "telegram", ChatID: "-1", Client: tg, Render: channel.RenderHTML},
		{Name: "discord", ChatID: "2", Client: dc, Render: channel.RenderMarkdown},
	}
	src := &batches{ticks: [][]news.Item{
		{mk("https://x/a"), mk("https://x/b")},
		{mk("https://x/b"), mk("https://x/c")},
	}}
	l := newTestLoop(src, led, fastDispatcher(), targets)
	ctx := context.Background()

	r1 := l.Tick(ctx)
	if r1.Collected != 2 || r1.Fresh != 2 || r1.Committed != 2 {
		t.Fatalf("tick 1 = %+v", r1)
	}
	r2 := l.Tick(ctx)
	if r2.Collected != 2 || r2.Fresh != 1 || r2.Committed != 1 {
		t.Fatalf("tick 2 = %+v", r2)
	}

	if tg.count() != 3 || dc.count() != 3 {
		t.Fatalf("sends telegram=%d discord=%d, want 3 each", tg.count(), dc.count())
	}
	if !strings.Contains(tg.sent[2], "https://x/c") || !strings.Contains(dc.sent[2], "https://x/c") {
		t.Fatalf("second tick sent %q / %q", tg.sent[2], dc.sent[2])
	}
	if n, _ := led.Count(ctx); n != 3 {
		t.Fatalf("ledger rows = %d, want 3", n)
	}
}

func TestFailedChannelDoesNotBlockCommit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		tgErr  error
		dcErr  error
		failed int
	}{
		{"one channel fails", nil, errors.New("502"), 1},
		{"all channels fail", errors.New("timeout"), channel.Permanent(errors.New("forbidden")), 2},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			led := newMemLedger()
			targets := []channel.Target{
				{Name: "telegram", Client: &client{err: tc.tgErr}},
				{Name: "discord", Client: &client{err: tc.dcErr}},
			}
			r := newTestLoop(&batches{ticks: [][]news.Item{{mk("https://x/1")}}}, led, fastDispatcher(), targets).Tick(context.Background())
			if r.Committed != 1 || r.ChannelFailures != tc.failed {
				t.Fatalf("report = %+v", r)
			}
			if _, ok := led.rows["https://x/1"]; !ok {
				t.Fatal("item not committed")
			}
		})
	}
}

type stepFailer struct{ bad string }

func (s stepFailer) DeliverAll(ctx context.Context, it news.Item, targets []channel.Target) ([]dispatch.Outcome, error) {
	if it.URL == s.bad {
		return nil, errors.New("channel goroutine panicked")
	}
	return []dispatch.Outcome{{Channel: "telegram", Status: dispatch.Delivered}}, nil
}

func TestDispatchStepFailureLeavesItemUncommitted(t *testing.T) {
	t.Parallel()
	led := newMemLedger()
	src := &batches{ticks: [][]news.Item{{mk("https://x/1"), mk("https://x/2"), mk("https://x/3")}}}
	r := newTestLoop(src, led, stepFailer{bad: "https://x/2"}, nil).Tick(context.Background())

	if r.Committed != 2 || r.Uncommitted != 1 {
		t.Fatalf("report = %+v", r)
	}
	if _, ok := led.rows["https://x/2"]; ok {
		t.Fatal("failed dispatch step must not be committed")
	}
	if _, ok := led.rows["https://x/3"]; !ok {
		t.Fatal("processing must continue after a failed item")
	}
}

func TestCommitErrorsAreNonFatal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		led  *memLedger
	}{
		{"duplicate", &memLedger{rows: map[string]ledger.Record{}, forceDupes: true}},
		{"storage", &memLedger{rows: map[string]ledger.Record{}, recordErr: errors.New("disk full")}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &client{}
			src := &batches{ticks: [][]news.Item{{mk("https://x/1"), mk("https://x/2")}}}
			r := newTestLoop(src, tc.led, fastDispatcher(), []channel.Target{{Name: "telegram", Client: c}}).Tick(context.Background())
			if r.Committed != 0 || r.Uncommitted != 2 || c.count() != 2 {
				t.Fatalf("report = %+v, sends = %d", r, c.count())
			}
		})
	}
}

func TestFilterSkipsLookupErrorsAndInTickRepeats(t *testing.T) {
	t.Parallel()
	led := newMemLedger()
	led.rows["https://x/old"] = ledger.Record{URL: "https://x/old"}
	led.existsErr = map[string]error{"https://x/broken": errors.New("locked")}
	c := &client{}
	src := &batches{ticks: [][]news.Item{{
		mk("https://x/1"), mk("https://x/old"), mk("https://x/broken"), mk("https://x/1"), mk("https://x/2"),
	}}}
	r := newTestLoop(src, led, fastDispatcher(), []channel.Target{{Name: "telegram", Client: c}}).Tick(context.Background())

	if r.Fresh != 2 || r.Committed != 2 {
		t.Fatalf("report = %+v", r)
	}
	if !strings.Contains(c.sent[0], "https://x/1") || !strings.Contains(c.sent[1], "https://x/2") {
		t.Fatalf("order not preserved: %q", c.sent)
	}
}

type failingValidator struct{}

func (failingValidator) Validate(ctx context.Context, targets []channel.Target) error {
	return errors.New("channel telegram failed validation")
}

func TestValidationFailureNeverTouchesLedger(t *testing.T) {
	t.Parallel()
	led := newMemLedger()
	src := &batches{ticks: [][]news.Item{{mk("https://x/1")}}}
	l := NewLoop(src, led, fastDispatcher(), failingValidator{}, nil, Options{Log: logx.Nop(), sleep: noSleep})

	if err := l.Run(context.Background()); err == nil {
		t.Fatal("Run should fail validation")
	}
	if led.calls != 0 || src.calls != 0 {
		t.Fatalf("ledger calls = %d, collect calls = %d", led.calls, src.calls)
	}
	if l.State() != Fatal {
		t.Fatalf("state = %v, want fatal", l.State())
	}
}

func TestRunTicksImmediatelyThenSleepsUntilNext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var slept []time.Duration
	bus := eventbus.New()
	ticks, unsub := bus.Subscribe(4, eventbus.TickCompleted)
	defer unsub()

	var reports []TickReport
	src := &batches{ticks: [][]news.Item{{mk("https://x/1")}}}
	l := NewLoop(src, newMemLedger(), fastDispatcher(), nil, []channel.Target{{Name: "telegram", Client: &client{}}}, Options{
		Log:       logx.Nop(),
		Bus:       bus,
		ItemDelay: 0,
		OnTick:    func(r TickReport) { reports = append(reports, r) },
		now:       func() time.Time { return start },
		sleep: func(ctx context.Context, d time.Duration) bool {
			slept = append(slept, d)
			if d == time.Hour {
				cancel()
				return false
			}
			return true
		},
	})

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if src.calls != 1 || len(reports) != 1 || reports[0].Committed != 1 || reports[0].RunID == "" {
		t.Fatalf("collect calls = %d, reports = %+v", src.calls, reports)
	}
	if len(slept) != 2 || slept[0] != DefaultItemDelay || slept[1] != time.Hour {
		t.Fatalf("sleeps = %v, want [1s 1h]", slept)
	}
	if len(ticks) != 1 {
		t.Fatalf("tick events = %d", len(ticks))
	}
	if l.State() != Stopped {
		t.Fatalf("state = %v", l.State())
	}
}

func TestCancelDuringTickLeavesRestUncommitted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	led := newMemLedger()
	src := &batches{ticks: [][]news.Item{{mk("https://x/1"), mk("https://x/2"), mk("https://x/3")}}}
	l := NewLoop(src, led, fastDispatcher(), nil, []channel.Target{{Name: "telegram", Client: &client{}}}, Options{
		Log: logx.Nop(),
		sleep: func(ctx context.Context, d time.Duration) bool {
			cancel()
			return false
		},
	})
	r := l.Tick(ctx)
	if r.Committed != 1 || r.Uncommitted != 2 {
		t.Fatalf("report = %+v", r)
	}
}
