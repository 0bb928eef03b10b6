// Package app wires configuration, sources, channels, the ledger and the
// scheduler into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"newsbot/internal/bootstrap"
	"newsbot/internal/channel"
	"newsbot/internal/config"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/ledger"
	"newsbot/internal/runtime/supervisor"
	"newsbot/internal/scheduler"
	"newsbot/internal/source"
	logx "newsbot/pkg/logx"
	"newsbot/pkg/systemd"
)

const stopTimeout = 15 * time.Second

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	src       *source.Aggregator
	targets   []channel.Target
	disp      *dispatch.Dispatcher
	validator bootstrap.Validator
	sd        *systemd.Notifier

	// set by Run
	loop atomic.Pointer[scheduler.Loop]

	sent      atomic.Uint64
	failed    atomic.Uint64
	committed atomic.Uint64
}

// New loads the configuration and builds every component except the
// ledger, which Run opens. No network calls are made.
func New(cfgm *config.ConfigManager) (*App, error) {
	if cfgm == nil {
		return nil, errors.New("config manager is nil")
	}
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, _, err := mapLoop(cfg)
		return err
	})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	a := &App{
		cfgm: cfgm,
		cfg:  cfg,
		logs: logs,
		log:  log,
		bus:  eventbus.New(),
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a.targets, err = buildTargets(cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if s, chat, ok := alertTarget(cfg, a.targets); ok {
		logs.SetAlertTarget(s, chat)
	}
	a.src = buildSources(cfg, log)
	a.disp = dispatch.New(mapDispatch(cfg), log, a.bus)
	a.validator = mapValidator(cfg, log)
	a.sd = systemd.New(cfg.Systemd.Enabled(), log)
	return a, nil
}

func (a *App) Logger() logx.Logger { return a.log }

// Targets returns the configured channels in delivery order.
func (a *App) Targets() []channel.Target { return a.targets }

// Check runs the startup validation without touching the ledger.
func (a *App) Check(ctx context.Context) error {
	return a.validator.Validate(ctx, a.targets)
}

// Once validates the channels and runs a single tick.
func (a *App) Once(ctx context.Context) (scheduler.TickReport, error) {
	led, loop, err := a.openLoop()
	if err != nil {
		return scheduler.TickReport{}, err
	}
	defer a.closeLedger(led)

	if err := loop.Validate(ctx); err != nil {
		return scheduler.TickReport{}, err
	}
	return loop.Tick(ctx), nil
}

// Run validates the channels, then polls on schedule until ctx ends. A
// validation failure is returned before any item is collected; cancellation
// is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	led, loop, err := a.openLoop()
	if err != nil {
		return err
	}
	defer a.closeLedger(led)

	a.sd.Status("validating channels")
	if err := loop.Validate(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.sd.Status("validation failed: " + err.Error())
		return err
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	events, unsubscribe := a.bus.Subscribe(256)
	sup.Go0("events.stats", func(c context.Context) {
		defer unsubscribe()
		a.consumeEvents(c, events)
	})
	sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	updates, stopUpdates := a.cfgm.Subscribe(4)
	sup.Go0("config.apply", func(c context.Context) {
		defer stopUpdates()
		a.applyLoop(c, updates)
	})
	if iv := a.sd.WatchdogInterval(); iv > 0 {
		sup.Go0("systemd.watchdog", func(c context.Context) {
			watchdog(c, a.sd, iv/2)
		})
	}
	sup.Go("scheduler.loop", loop.Serve)

	a.sd.Ready()
	a.log.Info("newsbot started",
		logx.Int("channels", len(a.targets)),
		logx.String("schedule", a.cfg.Loop.Schedule),
		logx.String("ledger", MapLedger(a.cfg).Driver),
	)

	<-sup.Context().Done()
	a.sd.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil && stopCtx.Err() != nil {
		a.log.Warn("shutdown timed out", logx.Err(err), logx.Int64("active", sup.Active()))
	}
	if err := sup.Err(); err != nil {
		a.log.Error("newsbot stopped on error", logx.Err(err))
		return err
	}
	a.log.Info("newsbot stopped",
		logx.Int64("sent", int64(a.sent.Load())),
		logx.Int64("failed", int64(a.failed.Load())),
		logx.Int64("committed", int64(a.committed.Load())),
		logx.Int64("events_dropped", int64(a.bus.Dropped())),
	)
	return nil
}

// Close flushes logging. Run closes the ledger itself.
func (a *App) Close() error {
	return a.logs.Close()
}

// State reports the scheduler state, or Idle before Run.
func (a *App) State() scheduler.State {
	if l := a.loop.Load(); l != nil {
		return l.State()
	}
	return scheduler.Idle
}

func (a *App) openLoop() (ledger.Ledger, *scheduler.Loop, error) {
	led, err := ledger.Open(MapLedger(a.cfg), a.log.With(logx.String("comp", "ledger")))
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	sched, delay, err := mapLoop(a.cfg)
	if err != nil {
		_ = led.Close()
		return nil, nil, err
	}
	loop := scheduler.NewLoop(a.src, led, a.disp, a.validator, a.targets, scheduler.Options{
		Schedule:  sched,
		ItemDelay: delay,
		Bus:       a.bus,
		Log:       a.log,
		OnTick:    a.onTick,
	})
	a.loop.Store(loop)
	return led, loop, nil
}

func (a *App) closeLedger(led ledger.Ledger) {
	if err := led.Close(); err != nil {
		a.log.Warn("ledger close failed", logx.Err(err))
	}
}

func (a *App) onTick(r scheduler.TickReport) {
	a.sd.Watchdog()
	a.sd.Status(fmt.Sprintf("last tick %s: %d fresh, %d committed, %d channel failures",
		r.Started.Format(time.RFC3339), r.Fresh, r.Committed, r.ChannelFailures))
}

func (a *App) consumeEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.DeliverySent:
				a.sent.Add(1)
			case eventbus.DeliveryFailed:
				a.failed.Add(1)
			case eventbus.ItemCommitted:
				a.committed.Add(1)
			case eventbus.ConfigReloaded:
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	}
}

// applyLoop pushes hot-reloadable sections into the running components.
func (a *App) applyLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			next = latest(sub, next)
			if next == nil {
				continue
			}
			a.apply(last, next)
			last = next
		}
	}
}

// latest drains whatever is already queued and returns the newest config.
func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		return
	}
	fields := append([]logx.Field{
		logx.String("applied", strings.Join(ch.Applied, ",")),
		logx.String("restart_required", strings.Join(ch.NeedsRestart, ",")),
	}, ch.Attrs...)
	a.log.Info("config change", fields...)

	for _, section := range ch.Applied {
		switch section {
		case "logging":
			a.logs.Apply(mapLogging(next))
			if s, chat, ok := alertTarget(next, a.targets); ok {
				a.logs.SetAlertTarget(s, chat)
			}
		case "dispatch":
			a.disp.Apply(mapDispatch(next))
		case "loop":
			loop := a.loop.Load()
			if loop == nil {
				continue
			}
			sched, delay, err := mapLoop(next)
			if err != nil {
				a.log.Warn("loop settings not applied", logx.Err(err))
				continue
			}
			loop.SetSchedule(sched)
			loop.SetItemDelay(delay)
		}
	}
	if len(ch.NeedsRestart) > 0 {
		a.log.Warn("restart required for config change", logx.String("sections", strings.Join(ch.NeedsRestart, ",")))
	}
	a.bus.Publish(eventbus.Event{
		Type: eventbus.ConfigReloaded,
		Time: time.Now(),
		Data: ch.Applied,
	})
}

func watchdog(ctx context.Context, sd *systemd.Notifier, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sd.Watchdog()
		}
	}
}
