//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Channel is the duplex text transport behind one connection.
// Receive returns an error once the channel is closed or broken.
type Channel interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Recipient is a connected session able to take an encoded frame without blocking.
type Recipient interface {
	SessionID() string
	Deliver(ctx context.Context, frame []byte) error
	Close() error
}

// EventSink receives every domain event after the fan-out (journal, telemetry).
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Connections tracks every open connection, registered or not.
type Connections interface {
	Attach(recipient Recipient)
	Detach(sessionID string)
}

// Publisher sends events to every connection (Publish) or only to the permanent sinks (Record).
type Publisher interface {
	Publish(ctx context.Context, e event.DomainEvent) error
	Record(ctx context.Context, e event.DomainEvent)
}

type IRegistry interface {
	Register(p domain.Participant, recipient Recipient) Recipient
	Apply(id, sessionID string, u domain.Update, now time.Time) (domain.Snapshot, bool)
	Remove(id, sessionID string) bool
	RemoveIfStale(id string, now time.Time, threshold time.Duration) (Recipient, bool)
	Stale(now time.Time, threshold time.Duration) []string
	Snapshot() domain.Snapshot
	Len() int
}

// Censor masks forbidden words in display names.
type Censor interface {
	Censor(original string) (string, []string)
}

type Journal interface {
	Append(entry domain.JournalEntry) error
	List(cursor *string) ([]domain.JournalEntry, *string, error)
}
