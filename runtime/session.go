package runtime

import (
	"context"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session binds a transport channel to its outbound buffer.
// Fan-out only ever enqueues into the buffer; the write pump started by Run
// is the single writer of the channel.
type Session struct {
	id           string
	log          *slog.Logger
	channel      contract.Channel
	outbox       chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	onSendError  func(error)
}

func NewSession(log *slog.Logger, channel contract.Channel, bufferSize int, writeTimeout time.Duration) *Session {
	id := uuid.NewString()
	return &Session{
		id:           id,
		log:          log.With("session", id),
		channel:      channel,
		outbox:       make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// OnSendError registers a callback invoked by the write pump on each failed send.
func (s *Session) OnSendError(fn func(error)) *Session {
	s.onSendError = fn
	return s
}

func (s *Session) SessionID() string { return s.id }

// Deliver is called by fanout
// Redirect the frame through the write pump of the connection
// Never blocks: a full buffer drops the frame for this connection only
func (s *Session) Deliver(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return errors.ErrSessionClosed
	default:
	}
	select {
	case s.outbox <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.ErrSinkFull
	}
}

// Run pumps buffered frames to the channel until the session is closed or ctx is done.
// A failed send is reported and the frame dropped; cleanup of the connection
// belongs to its read side.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case frame := <-s.outbox:
			if err := s.send(ctx, frame); err != nil {
				s.log.Debug("Failed to push frame to channel", "err", err)
				if s.onSendError != nil {
					s.onSendError(err)
				}
			}
		}
	}
}

// Close stops the pump and closes the underlying channel. Safe to call many times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.channel.Close()
	})
	return err
}

func (s *Session) send(ctx context.Context, frame []byte) error {
	if s.writeTimeout <= 0 {
		return s.channel.Send(ctx, frame)
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.channel.Send(sendCtx, frame)
}
