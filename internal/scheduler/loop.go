package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"newsbot/internal/channel"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/ledger"
	"newsbot/internal/news"
	logx "newsbot/pkg/logx"
)

const DefaultItemDelay = time.Second

type State int32

const (
	Idle State = iota
	Validating
	Collecting
	Filtering
	Dispatching
	Committing
	Sleeping
	Fatal
	Stopped
)

var stateNames = [...]string{"idle", "validating", "collecting", "filtering", "dispatching", "committing", "sleeping", "fatal", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Collector yields this tick's candidate items and never fails.
type Collector interface {
	Collect(ctx context.Context) []news.Item
}

// Broadcaster delivers one item to every target.
type Broadcaster interface {
	DeliverAll(ctx context.Context, it news.Item, targets []channel.Target) ([]dispatch.Outcome, error)
}

// Validator checks targets once before the first tick.
type Validator interface {
	Validate(ctx context.Context, targets []channel.Target) error
}

// TickReport summarizes one cycle.
type TickReport struct {
	RunID           string        `json:"run_id"`
	Started         time.Time     `json:"started"`
	Collected       int           `json:"collected"`
	Fresh           int           `json:"fresh"`
	Committed       int           `json:"committed"`
	Uncommitted     int           `json:"uncommitted"`
	ChannelFailures int           `json:"channel_failures"`
	Duration        time.Duration `json:"duration"`
}

type Options struct {
	Schedule  Schedule      // default Every(1h)
	ItemDelay time.Duration // default 1s; negative disables
	Bus       eventbus.Bus
	Log       logx.Logger
	// OnTick runs after every tick (watchdog, status line).
	OnTick func(TickReport)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

type Loop struct {
	src       Collector
	led       ledger.Ledger
	out       Broadcaster
	validator Validator
	targets   []channel.Target

	bus    eventbus.Bus
	log    logx.Logger
	onTick func(TickReport)
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) bool

	state atomic.Int32

	mu        sync.Mutex
	schedule  Schedule
	itemDelay time.Duration
}

func NewLoop(src Collector, led ledger.Ledger, out Broadcaster, validator Validator, targets []channel.Target, opt Options) *Loop {
	l := &Loop{
		src:       src,
		led:       led,
		out:       out,
		validator: validator,
		targets:   targets,
		bus:       opt.Bus,
		log:       opt.Log,
		onTick:    opt.OnTick,
		now:       opt.now,
		sleep:     opt.sleep,
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("comp", "scheduler"))
	if l.now == nil {
		l.now = time.Now
	}
	if l.sleep == nil {
		l.sleep = sleepCtx
	}
	l.SetSchedule(opt.Schedule)
	l.SetItemDelay(opt.ItemDelay)
	return l
}

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// SetSchedule takes effect at the next sleep.
func (l *Loop) SetSchedule(s Schedule) {
	if s == nil {
		s = Every(DefaultInterval)
	}
	l.mu.Lock()
	l.schedule = s
	l.mu.Unlock()
}

func (l *Loop) SetItemDelay(d time.Duration) {
	if d == 0 {
		d = DefaultItemDelay
	}
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.itemDelay = d
	l.mu.Unlock()
}

// Settings returns the current schedule and item delay.
func (l *Loop) Settings() (Schedule, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.schedule, l.itemDelay
}

// Run validates the targets, then ticks until ctx ends. It returns the
// validation error, or nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Validate(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve ticks immediately and then at every schedule point until ctx ends.
// Callers that use Serve directly must have called Validate.
func (l *Loop) Serve(ctx context.Context) error {
	for {
		report := l.Tick(ctx)
		if ctx.Err() != nil {
			break
		}
		sched, _ := l.Settings()
		now := l.now()
		next := sched.Next(report.Started, now)
		l.setState(Sleeping)
		l.log.Debug("sleeping until next tick", logx.Time("next", next), logx.String("schedule", sched.String()))
		if !l.sleep(ctx, next.Sub(now)) {
			break
		}
	}
	l.setState(Stopped)
	return nil
}

// Validate runs the startup probe. On failure the loop is Fatal.
func (l *Loop) Validate(ctx context.Context) error {
	l.setState(Validating)
	if l.validator != nil {
		if err := l.validator.Validate(ctx, l.targets); err != nil {
			l.setState(Fatal)
			return err
		}
	}
	l.setState(Idle)
	return nil
}

// Tick runs one collect, filter, dispatch and commit cycle.
func (l *Loop) Tick(ctx context.Context) TickReport {
	r := TickReport{RunID: uuid.NewString(), Started: l.now()}
	log := l.log.With(logx.String("run_id", r.RunID))
	_, itemDelay := l.Settings()

	l.setState(Collecting)
	items := l.src.Collect(ctx)
	r.Collected = len(items)

	l.setState(Filtering)
	fresh := l.filter(ctx, items, log)
	r.Fresh = len(fresh)
	log.Info("tick collected", logx.Int("collected", r.Collected), logx.Int("fresh", r.Fresh))

	for i, it := range fresh {
		if ctx.Err() != nil {
			r.Uncommitted += len(fresh) - i
			break
		}
		l.setState(Dispatching)
		outs, err := l.out.DeliverAll(ctx, it, l.targets)
		for _, o := range outs {
			if !o.OK() {
				r.ChannelFailures++
			}
		}
		if err != nil {
			log.Error("dispatch step failed, item left uncommitted", logx.String("url", it.URL), logx.Err(err))
			r.Uncommitted++
			continue
		}

		l.setState(Committing)
		if l.commit(ctx, it, r.RunID, log) {
			r.Committed++
		} else {
			r.Uncommitted++
		}
		if itemDelay > 0 && !l.sleep(ctx, itemDelay) {
			r.Uncommitted += len(fresh) - i - 1
			break
		}
	}

	r.Duration = l.now().Sub(r.Started)
	log.Info("tick completed",
		logx.Int("committed", r.Committed),
		logx.Int("uncommitted", r.Uncommitted),
		logx.Int("channel_failures", r.ChannelFailures),
		logx.Duration("took", r.Duration),
	)
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TickCompleted, Data: r})
	}
	if l.onTick != nil {
		l.onTick(r)
	}
	l.setState(Idle)
	return r
}

// filter drops items already in the ledger and repeats within this tick.
// An item whose lookup fails is skipped until the next tick.
func (l *Loop) filter(ctx context.Context, items []news.Item, log logx.Logger) []news.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]news.Item, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.URL]; dup {
			continue
		}
		seen[it.URL] = struct{}{}
		exists, err := l.led.Exists(ctx, it.URL)
		if err != nil {
			log.Error("ledger lookup failed, skipping item", logx.String("url", it.URL), logx.Err(err))
			continue
		}
		if !exists {
			out = append(out, it)
		}
	}
	return out
}

func (l *Loop) commit(ctx context.Context, it news.Item, runID string, log logx.Logger) bool {
	err := l.led.Record(ctx, ledger.RecordOf(it))
	switch {
	case err == nil:
		if l.bus != nil {
			l.bus.Publish(eventbus.Event{Type: eventbus.ItemCommitted, Data: eventbus.Commit{URL: it.URL, Source: it.Source, RunID: runID}})
		}
		return true
	case errors.Is(err, ledger.ErrDuplicate):
		log.Warn("item already recorded", logx.String("url", it.URL))
	default:
		log.Error("ledger record failed", logx.String("url", it.URL), logx.Err(err))
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
