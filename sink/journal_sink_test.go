package sink

import (
	"context"
	"log/slog"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/errors"
	"presence-lab/mocks"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestJournalSink_Records_Joins_And_Leaves(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	journal := mocks.NewMockJournal(ctrl)
	at := time.Now().UTC()

	appended := make(chan domain.JournalEntry, 2)
	journal.EXPECT().Append(gomock.Any()).
		DoAndReturn(func(entry domain.JournalEntry) error {
			appended <- entry
			return nil
		}).
		Times(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := NewJournalSink(journal, log, 8)
	go func() { _ = sink.Run(ctx) }()

	// When a join, a state update and a leave are consumed
	req.NoError(sink.Consume(ctx, event.PlayerJoined{ID: "p1", At: at}))
	req.NoError(sink.Consume(ctx, event.StateUpdated{Players: domain.Snapshot{}}))
	req.NoError(sink.Consume(ctx, event.PlayerLeft{ID: "p1", Reason: domain.ReasonTimeout, At: at}))

	// Then only the join and the leave reach the journal, in order
	joined, left := <-appended, <-appended
	req.Equal(domain.JournalJoined, joined.Kind)
	req.Equal("p1", joined.PlayerID)
	req.Equal(domain.JournalLeft, left.Kind)
	req.Equal(domain.ReasonTimeout, left.Reason)
	req.Equal(at, left.At)
}

func TestJournalSink_Full_Buffer_Drops_Without_Blocking(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Given a sink whose writer is not running
	sink := NewJournalSink(mocks.NewMockJournal(ctrl), log, 1)

	req.NoError(sink.Consume(context.Background(), event.PlayerJoined{ID: "p1"}))
	req.ErrorIs(sink.Consume(context.Background(), event.PlayerJoined{ID: "p2"}), errors.ErrSinkFull)
}
