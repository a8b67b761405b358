package workers

import (
	"context"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/observability"
	"time"
)

// SweeperWorker evicts participants that sent no accepted update for longer than threshold.
// Each cycle has the same effect as a disconnect: removal, one player_left, and the
// evicted connection is closed so its ingest loop ends.
type SweeperWorker struct {
	log        *slog.Logger
	registry   contract.IRegistry
	publisher  contract.Publisher
	monitoring *observability.MonitoringManager
	interval   time.Duration
	threshold  time.Duration
	now        func() time.Time
}

func NewSweeperWorker(
	log *slog.Logger,
	registry contract.IRegistry,
	publisher contract.Publisher,
	monitoring *observability.MonitoringManager,
	interval, threshold time.Duration,
) *SweeperWorker {
	return &SweeperWorker{
		log:        log.With("worker", "sweeper"),
		registry:   registry,
		publisher:  publisher,
		monitoring: monitoring,
		interval:   interval,
		threshold:  threshold,
		now:        time.Now,
	}
}

// WithClock replaces the time source, tests drive eviction with it.
func (w *SweeperWorker) WithClock(now func() time.Time) *SweeperWorker {
	w.now = now
	return w
}

func (w *SweeperWorker) Run(ctx context.Context) error {
	w.log.Info("Starting sweeper worker", "interval", w.interval, "threshold", w.threshold)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle and returns the evicted ids.
// An id removed concurrently by its own connection is skipped, so "left" goes out once.
func (w *SweeperWorker) Sweep(ctx context.Context) []string {
	now := w.now()
	var evicted []string
	for _, id := range w.registry.Stale(now, w.threshold) {
		recipient, ok := w.registry.RemoveIfStale(id, now, w.threshold)
		if !ok {
			continue
		}
		evicted = append(evicted, id)
		w.monitoring.IncrLeave(string(domain.ReasonTimeout))

		evt := event.PlayerLeft{ID: id, Reason: domain.ReasonTimeout, At: now}
		if err := w.publisher.Publish(ctx, evt); err != nil {
			w.log.Debug("Some sessions missed the eviction", "id", id, "error", err)
		}
		if recipient != nil {
			if err := recipient.Close(); err != nil {
				w.log.Debug("Closing evicted session failed", "id", id, "error", err)
			}
		}
		w.log.Info("Participant evicted", "id", id)
	}
	return evicted
}
