package services

import (
	"context"
	"fmt"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/errors"
	"presence-lab/observability"
	"presence-lab/protocol"
	"presence-lab/runtime"
	"time"
)

type IPresenceService interface {
	Serve(ctx context.Context, channel contract.Channel) error
}

// PresenceService runs the lifecycle of one connection:
// handshake, then the ingest loop, then the leave cleanup.
type PresenceService struct {
	log          *slog.Logger
	registry     contract.IRegistry
	connections  contract.Connections
	publisher    contract.Publisher
	censor       contract.Censor
	monitoring   *observability.MonitoringManager
	bufferSize   int
	writeTimeout time.Duration
	now          func() time.Time
}

// NewPresenceService builds the service. censor may be nil to keep display names untouched.
func NewPresenceService(
	log *slog.Logger,
	registry contract.IRegistry,
	connections contract.Connections,
	publisher contract.Publisher,
	censor contract.Censor,
	monitoring *observability.MonitoringManager,
	bufferSize int,
	writeTimeout time.Duration,
) *PresenceService {
	return &PresenceService{
		log:          log,
		registry:     registry,
		connections:  connections,
		publisher:    publisher,
		censor:       censor,
		monitoring:   monitoring,
		bufferSize:   bufferSize,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

func (s *PresenceService) WithClock(now func() time.Time) *PresenceService {
	s.now = now
	return s
}

// Serve blocks until the connection is over.
// It returns ErrHandshakeAborted or ErrInvalidHandshake when the connection never registered,
// nil otherwise: a closed channel is the normal end of a connection.
func (s *PresenceService) Serve(ctx context.Context, channel contract.Channel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := runtime.NewSession(s.log, channel, s.bufferSize, s.writeTimeout).
		OnSendError(func(error) { s.monitoring.AddDeliveries(observability.StatusFailed, 1) })
	go func() { _ = session.Run(ctx) }()
	s.connections.Attach(session)
	defer func() {
		s.connections.Detach(session.SessionID())
		_ = session.Close()
	}()

	id, err := s.Handshake(ctx, channel, session)
	if err != nil {
		return err
	}
	defer s.Leave(context.WithoutCancel(ctx), id, session.SessionID())

	s.Ingest(ctx, channel, id, session.SessionID())
	return nil
}

// Handshake waits for the first message and registers its sender under the declared id.
// A live entry for the same id is replaced and its connection closed. The replacement is
// journaled as a leave but never broadcast: for the other clients the id stays live.
func (s *PresenceService) Handshake(ctx context.Context, channel contract.Channel, recipient contract.Recipient) (string, error) {
	raw, err := channel.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrHandshakeAborted, err)
	}

	update, err := protocol.DecodeUpdate(raw)
	if err != nil {
		s.log.Warn("Rejecting connection", "session", recipient.SessionID(), "err", err)
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidHandshake, err)
	}

	now := s.now()
	previous := s.registry.Register(domain.NewParticipant(s.moderate(update), now), recipient)
	if previous != nil {
		s.log.Info("Participant registered again, closing previous connection",
			"id", update.ID, "previous", previous.SessionID())
		_ = previous.Close()
		s.monitoring.IncrLeave(string(domain.ReasonReplaced))
		s.publisher.Record(ctx, event.PlayerLeft{ID: update.ID, Reason: domain.ReasonReplaced, At: now})
	}
	s.monitoring.IncrJoin()
	s.log.Info("Participant joined", "id", update.ID, "session", recipient.SessionID())

	s.publish(ctx, event.PlayerJoined{ID: update.ID, At: now})
	s.publish(ctx, event.StateUpdated{Players: s.registry.Snapshot(), At: now})
	return update.ID, nil
}

// Ingest merges the updates of id until the channel closes, in arrival order.
// Malformed or foreign messages are discarded and the connection stays open.
// It also stops once the session no longer owns id (replaced or evicted).
func (s *PresenceService) Ingest(ctx context.Context, channel contract.Channel, id, sessionID string) {
	for {
		raw, err := channel.Receive(ctx)
		if err != nil {
			s.log.Debug("Channel closed", "id", id, "err", err)
			return
		}

		update, err := protocol.DecodeUpdate(raw)
		if err == nil && update.ID != id {
			err = fmt.Errorf("%w: got %q", errors.ErrIDMismatch, update.ID)
		}
		if err != nil {
			s.log.Warn("Discarding message", "id", id, "err", err)
			s.monitoring.IncrUpdate(observability.StatusDiscarded)
			continue
		}

		now := s.now()
		snapshot, ok := s.registry.Apply(id, sessionID, s.moderate(update), now)
		if !ok {
			s.log.Info("Session no longer owns participant", "id", id, "session", sessionID)
			return
		}
		s.monitoring.IncrUpdate(observability.StatusAccepted)
		s.publish(ctx, event.StateUpdated{Players: snapshot, At: now})
	}
}

// Leave removes id when this session still owns it and broadcasts player_left.
// It reports whether this call did the removal.
func (s *PresenceService) Leave(ctx context.Context, id, sessionID string) bool {
	if !s.registry.Remove(id, sessionID) {
		return false
	}
	s.monitoring.IncrLeave(string(domain.ReasonDisconnect))
	s.log.Info("Participant left", "id", id, "session", sessionID)
	s.publish(ctx, event.PlayerLeft{ID: id, Reason: domain.ReasonDisconnect, At: s.now()})
	return true
}

func (s *PresenceService) moderate(u domain.Update) domain.Update {
	if s.censor == nil || u.Name == nil {
		return u
	}
	name, words := s.censor.Censor(*u.Name)
	if len(words) > 0 {
		s.log.Debug("Display name moderated", "id", u.ID, "words", words)
		u.Name = &name
	}
	return u
}

func (s *PresenceService) publish(ctx context.Context, e event.DomainEvent) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Debug("Broadcast partially failed", "type", e.Type(), "err", err)
	}
}
