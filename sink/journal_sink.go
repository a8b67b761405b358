package sink

import (
	"context"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/errors"

	"github.com/google/uuid"
)

// JournalSink records joins and leaves. Consume never waits on the disk,
// the entries are written by Run in the background.
type JournalSink struct {
	journal contract.Journal
	log     *slog.Logger
	entries chan domain.JournalEntry
}

func NewJournalSink(journal contract.Journal, log *slog.Logger, bufferSize int) *JournalSink {
	return &JournalSink{
		journal: journal,
		log:     log.With("sink", "journal"),
		entries: make(chan domain.JournalEntry, bufferSize),
	}
}

func (s *JournalSink) Consume(_ context.Context, e event.DomainEvent) error {
	entry, ok := toJournalEntry(e)
	if !ok {
		return nil
	}
	select {
	case s.entries <- entry:
		return nil
	default:
		s.log.Warn("Journal buffer full, dropping entry", "player", entry.PlayerID, "kind", entry.Kind)
		return errors.ErrSinkFull
	}
}

// Run drains the buffer into the journal until ctx is done.
func (s *JournalSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry := <-s.entries:
			if err := s.journal.Append(entry); err != nil {
				s.log.Error("Failed to append journal entry", "player", entry.PlayerID, "error", err)
			}
		}
	}
}

func toJournalEntry(e event.DomainEvent) (domain.JournalEntry, bool) {
	switch evt := e.(type) {
	case event.PlayerJoined:
		return domain.JournalEntry{ID: uuid.New(), Kind: domain.JournalJoined, PlayerID: evt.ID, At: evt.At}, true
	case event.PlayerLeft:
		return domain.JournalEntry{ID: uuid.New(), Kind: domain.JournalLeft, PlayerID: evt.ID, Reason: evt.Reason, At: evt.At}, true
	default:
		return domain.JournalEntry{}, false
	}
}
