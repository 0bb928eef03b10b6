package source

import (
	"context"
	"fmt"
	"runtime/debug"

	"newsbot/internal/news"
	logx "newsbot/pkg/logx"
)

// Aggregator queries the primary provider and falls back once when it
// produces no valid items. Results are never merged.
type Aggregator struct {
	primary  Provider
	fallback Provider // may be nil
	log      logx.Logger
}

func NewAggregator(primary, fallback Provider, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{primary: primary, fallback: fallback, log: log.With(logx.String("comp", "source"))}
}

// Collect never fails. Provider errors and panics are logged and treated as
// an empty result.
func (a *Aggregator) Collect(ctx context.Context) []news.Item {
	var items []news.Item
	if a.primary != nil {
		items = a.fetch(ctx, a.primary)
		if len(items) > 0 {
			return items
		}
	}
	if a.fallback == nil || ctx.Err() != nil {
		return items
	}
	a.log.Info("primary source empty, using fallback", logx.String("fallback", a.fallback.Name()))
	return a.fetch(ctx, a.fallback)
}

func (a *Aggregator) fetch(ctx context.Context, p Provider) (items []news.Item) {
	name := p.Name()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("provider panic",
				logx.String("provider", name),
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
			items = nil
		}
	}()

	raw, err := p.Fetch(ctx)
	if err != nil {
		a.log.Warn("provider failed", logx.String("provider", name), logx.Err(err))
		return nil
	}
	items = make([]news.Item, 0, len(raw))
	skipped := 0
	for _, e := range raw {
		it := e.Item()
		if !it.Valid() {
			skipped++
			continue
		}
		items = append(items, it)
	}
	a.log.Debug("provider fetched",
		logx.String("provider", name),
		logx.Int("items", len(items)),
		logx.Int("skipped", skipped),
	)
	return items
}
