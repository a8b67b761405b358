package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/domain/event"
	"presence-lab/errors"
	"presence-lab/observability"
	"presence-lab/protocol"
)

// RecipientSource lists the sessions a frame must reach.
type RecipientSource interface {
	Recipients() []contract.Recipient
}

// Broadcaster fans domain events out to every connected session, then to the permanent sinks.
//
// It provides best-effort delivery with no retries. Each recipient is attempted
// independently: a closed or saturated session neither blocks nor aborts the batch,
// and is never cleaned up from here (its own read loop owns that).
//
// Broadcaster is safe for concurrent use by multiple goroutines.
type Broadcaster struct {
	log            *slog.Logger
	source         RecipientSource
	permanentSinks []contract.EventSink
	monitoring     *observability.MonitoringManager
}

func NewBroadcaster(log *slog.Logger, source RecipientSource, monitoring *observability.MonitoringManager) *Broadcaster {
	return &Broadcaster{log: log, source: source, monitoring: monitoring}
}

// Add registers sinks receiving every published event (journal, telemetry).
// It must be called before the first Publish.
func (b *Broadcaster) Add(sinks ...contract.EventSink) *Broadcaster {
	b.permanentSinks = append(b.permanentSinks, sinks...)
	return b
}

// Publish encodes e once and hands the frame to every connected session.
// The returned error joins the individual delivery failures; callers log it and move on.
func (b *Broadcaster) Publish(ctx context.Context, e event.DomainEvent) error {
	frame, err := protocol.Encode(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type(), err)
	}

	errs := b.fanout(ctx, frame)
	b.Record(ctx, e)
	return errs
}

// Record hands e to the permanent sinks only. No frame reaches the sessions.
func (b *Broadcaster) Record(ctx context.Context, e event.DomainEvent) {
	for _, sink := range b.permanentSinks {
		if err := sink.Consume(ctx, e); err != nil {
			b.log.Debug("Permanent sink refused event", "type", e.Type(), "err", err)
		}
	}
}

func (b *Broadcaster) fanout(ctx context.Context, frame []byte) error {
	recipients := b.source.Recipients()
	if len(recipients) == 0 {
		return nil
	}

	var errs []error
	delivered, dropped := 0, 0
	for _, recipient := range recipients {
		if err := recipient.Deliver(ctx, frame); err != nil {
			if stderrors.Is(err, errors.ErrSinkFull) {
				dropped++
			}
			errs = append(errs, fmt.Errorf("session %s: %w", recipient.SessionID(), err))
			continue
		}
		delivered++
	}

	b.monitoring.AddDeliveries(observability.StatusDelivered, delivered)
	b.monitoring.AddDeliveries(observability.StatusDropped, dropped)
	b.monitoring.AddDeliveries(observability.StatusFailed, len(errs)-dropped)
	return stderrors.Join(errs...)
}
