// Package dispatch delivers one item to every configured channel, retrying
// each channel independently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newsbot/internal/channel"
	"newsbot/internal/eventbus"
	"newsbot/internal/news"
	logx "newsbot/pkg/logx"
)

const (
	DefaultAttempts    = 3
	DefaultRetryDelay  = 2 * time.Second
	DefaultSendTimeout = 10 * time.Second
	DefaultRatePerSec  = 1.0
)

type Config struct {
	Attempts    int
	RetryDelay  time.Duration
	SendTimeout time.Duration
	RatePerSec  float64 // per channel; <0 disables limiting
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.RatePerSec == 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	return c
}

func (c Config) limit() rate.Limit {
	if c.RatePerSec < 0 {
		return rate.Inf
	}
	return rate.Limit(c.RatePerSec)
}

type Status int

const (
	Delivered Status = iota
	PermanentError
	TransientExhausted
	Canceled
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case PermanentError:
		return "permanent_error"
	case TransientExhausted:
		return "transient_exhausted"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of delivering one item to one channel.
type Outcome struct {
	Channel  string
	Status   Status
	Attempts int
	Err      error // last error; nil when delivered
}

func (o Outcome) OK() bool { return o.Status == Delivered }

type Dispatcher struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter

	log logx.Logger
	bus eventbus.Bus
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		limiters: map[string]*rate.Limiter{},
		log:      log.With(logx.String("comp", "dispatch")),
		bus:      bus,
	}
}

// Apply swaps retry and rate settings; in-flight deliveries keep their snapshot.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	for _, l := range d.limiters {
		l.SetLimit(cfg.limit())
	}
}

func (d *Dispatcher) snapshot(name string) (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.limiters[name]
	if l == nil {
		l = rate.NewLimiter(d.cfg.limit(), 1)
		d.limiters[name] = l
	}
	return d.cfg, l
}

// Deliver sends it to one target. Failures are reported in the Outcome,
// never returned.
func (d *Dispatcher) Deliver(ctx context.Context, it news.Item, t channel.Target) Outcome {
	cfg, lim := d.snapshot(t.Name)
	text := t.Text(it)
	out := Outcome{Channel: t.Name}

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			out.Status, out.Err = Canceled, err
			break
		}
		out.Attempts = attempt

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := t.Client.Send(callCtx, t.ChatID, text)
		cancel()
		if err == nil {
			out.Status, out.Err = Delivered, nil
			break
		}
		out.Err = err

		if ctx.Err() != nil {
			out.Status = Canceled
			break
		}
		if channel.IsPermanent(err) {
			out.Status = PermanentError
			break
		}
		out.Status = TransientExhausted
		d.log.Debug("send attempt failed",
			logx.String("channel", t.Name),
			logx.String("url", it.URL),
			logx.Int("attempt", attempt),
			logx.Int("max", cfg.Attempts),
			logx.Err(err),
		)
		if attempt < cfg.Attempts && !sleepCtx(ctx, cfg.RetryDelay) {
			out.Status, out.Err = Canceled, ctx.Err()
			break
		}
	}

	d.report(it, out)
	return out
}

func (d *Dispatcher) report(it news.Item, out Outcome) {
	ev := eventbus.Delivery{URL: it.URL, Channel: out.Channel, Attempts: out.Attempts, Status: out.Status.String()}
	if out.OK() {
		d.log.Info("item delivered",
			logx.String("channel", out.Channel),
			logx.String("url", it.URL),
			logx.Int("attempts", out.Attempts),
		)
		d.publish(eventbus.DeliverySent, ev)
		return
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	d.log.Error("item delivery failed",
		logx.String("channel", out.Channel),
		logx.String("url", it.URL),
		logx.String("status", out.Status.String()),
		logx.Int("attempts", out.Attempts),
		logx.Err(out.Err),
	)
	d.publish(eventbus.DeliveryFailed, ev)
}

func (d *Dispatcher) publish(typ string, data eventbus.Delivery) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// DeliverAll fans out to every target and joins. Outcomes are index-aligned
// with targets. The error is non-nil only when a channel goroutine panicked
// or ctx ended; channel failures live in the outcomes.
func (d *Dispatcher) DeliverAll(ctx context.Context, it news.Item, targets []channel.Target) ([]Outcome, error) {
	outcomes := make([]Outcome, len(targets))
	panics := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("channel goroutine panicked",
						logx.String("channel", t.Name),
						logx.String("url", it.URL),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					panics[i] = fmt.Errorf("channel %s panicked: %v", t.Name, r)
					outcomes[i] = Outcome{Channel: t.Name, Status: TransientExhausted, Err: panics[i]}
				}
			}()
			outcomes[i] = d.Deliver(ctx, it, t)
		}()
	}
	wg.Wait()

	if err := errors.Join(panics...); err != nil {
		return outcomes, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
