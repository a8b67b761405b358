package repositories

import (
	"log/slog"
	"presence-lab/domain"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func journalEntries(at time.Time) []domain.JournalEntry {
	return []domain.JournalEntry{
		{ID: uuid.New(), Kind: domain.JournalJoined, PlayerID: "alice", At: at},
		{ID: uuid.New(), Kind: domain.JournalJoined, PlayerID: "bob", At: at.Add(time.Second)},
		{ID: uuid.New(), Kind: domain.JournalLeft, PlayerID: "alice", Reason: domain.ReasonTimeout, At: at.Add(2 * time.Second)},
		{ID: uuid.New(), Kind: domain.JournalLeft, PlayerID: "bob", Reason: domain.ReasonDisconnect, At: at.Add(3 * time.Second)},
	}
}

func Test_Append_And_List_Newest_First(t *testing.T) {
	req := require.New(t)
	db, err := OpenBadger(t.TempDir())
	req.NoError(err)
	defer db.Close()

	repository := NewJournalRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug), nil)
	entries := journalEntries(time.Now().UTC())
	for _, entry := range entries {
		req.NoError(repository.Append(entry))
	}

	fetched, cursor, err := repository.List(nil)

	req.NoError(err)
	req.NotNil(cursor)
	req.Equal(lo.Reverse(entries), fetched)
}

func Test_List_Pages_With_Cursor(t *testing.T) {
	req := require.New(t)
	db, err := OpenBadger(t.TempDir())
	req.NoError(err)
	defer db.Close()

	limit := 3
	repository := NewJournalRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug), &limit)
	entries := journalEntries(time.Now().UTC())
	for _, entry := range entries {
		req.NoError(repository.Append(entry))
	}

	// When the first page is read
	first, cursor, err := repository.List(nil)
	req.NoError(err)
	req.Len(first, limit)
	req.Equal("bob", first[0].PlayerID)
	req.Equal(domain.ReasonDisconnect, first[0].Reason)

	// Then the cursor resumes with the oldest entry
	second, cursor, err := repository.List(cursor)
	req.NoError(err)
	req.Equal([]domain.JournalEntry{entries[0]}, second)

	// And the journal is exhausted after it
	third, cursor, err := repository.List(cursor)
	req.NoError(err)
	req.Empty(third)
	req.Nil(cursor)
}

func Test_List_Empty_Journal(t *testing.T) {
	req := require.New(t)
	db, err := OpenBadger(t.TempDir())
	req.NoError(err)
	defer db.Close()

	fetched, cursor, err := NewJournalRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug), nil).List(nil)

	req.NoError(err)
	req.Empty(fetched)
	req.Nil(cursor)
}
