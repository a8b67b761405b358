package repositories

import (
	"fmt"
	"log/slog"
	"presence-lab/domain"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	journalPrefix = "presence:"
	// Highest 19 digits timestamp, the reverse scan starts from it
	latestCursor = "9999999999999999999"
)

// JournalRepository keeps the join/leave history in BadgerDB.
type JournalRepository struct {
	db    *badger.DB
	log   *slog.Logger
	limit *int
}

func NewJournalRepository(db *badger.DB, log *slog.Logger, limit *int) JournalRepository {
	return JournalRepository{db: db, log: log, limit: limit}
}

// OpenBadger opens the journal database at path with badger's own logs kept quiet.
func OpenBadger(path string) (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
}

// Append persists an entry under "presence:{timestamp_padded}:{uuid}".
// The 19 digits padding keeps the lexicographical order chronological,
// the uuid separates two entries written at the same nanosecond.
func (j JournalRepository) Append(entry domain.JournalEntry) error {
	key := fmt.Sprintf("%s%019d:%s", journalPrefix, entry.At.UnixNano(), entry.ID)
	value, err := fromJournalEntry(entry)
	if err != nil {
		return err
	}
	bytes, err := proto.Marshal(value)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// List returns the entries newest first, at most limit of them.
// The returned cursor resumes right after the last entry, it is nil once the page is empty.
func (j JournalRepository) List(cursor *string) ([]domain.JournalEntry, *string, error) {
	var values [][]byte
	var lastKey string
	err := j.db.View(func(txn *badger.Txn) error {
		prefix := []byte(journalPrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append([]byte(journalPrefix), latestCursor...)
		if cursor != nil {
			seekKey = append([]byte(journalPrefix), *cursor...)
		}
		it.Seek(seekKey)

		// The cursor entry was the last one of the previous page
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefix):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if j.limit != nil && len(values) == *j.limit {
				j.log.Debug(fmt.Sprintf("Maximum of %d journal entries reached", *j.limit))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	entries := make([]domain.JournalEntry, 0, len(values))
	for _, b := range values {
		var value structpb.Struct
		if err := proto.Unmarshal(b, &value); err != nil {
			return nil, nil, err
		}
		entry, err := toJournalEntry(&value)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return entries, nil, nil
	}
	return entries, &lastKey, nil
}

func fromJournalEntry(entry domain.JournalEntry) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":     entry.ID.String(),
		"kind":   string(entry.Kind),
		"player": entry.PlayerID,
		"reason": string(entry.Reason),
		// Nanoseconds do not fit a float64, keep the text form
		"at": entry.At.UTC().Format(time.RFC3339Nano),
	})
}

func toJournalEntry(value *structpb.Struct) (domain.JournalEntry, error) {
	fields := value.GetFields()
	id, err := uuid.Parse(fields["id"].GetStringValue())
	if err != nil {
		return domain.JournalEntry{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, fields["at"].GetStringValue())
	if err != nil {
		return domain.JournalEntry{}, err
	}
	return domain.JournalEntry{
		ID:       id,
		Kind:     domain.JournalKind(fields["kind"].GetStringValue()),
		PlayerID: fields["player"].GetStringValue(),
		Reason:   domain.LeaveReason(fields["reason"].GetStringValue()),
		At:       at,
	}, nil
}
