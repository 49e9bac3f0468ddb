package freshness

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariefcatur/lavanda-orders/internal/events"
)

// Sweeper periodically recomputes every unsold batch.
type Sweeper struct {
	Service     *Service
	Interval    time.Duration
	Publisher   events.Publisher // optional
	ServiceName string
	Logger      *slog.Logger
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		w.sweep(ctx, log)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context, log *slog.Logger) {
	n, err := w.Service.RecomputeAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("freshness sweep failed", "err", err)
		}
		return
	}
	if w.Publisher == nil {
		return
	}
	env, err := events.New(ctx, events.EventFreshnessSwept, w.ServiceName, "",
		events.FreshnessSweptPayload{Changed: n, SweptAt: time.Now().UTC()})
	if err != nil {
		log.Error("build sweep event", "err", err)
		return
	}
	events.Emit(ctx, w.Publisher, events.TopicFreshnessSwept, "freshness", env)
}
