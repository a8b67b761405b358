package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeaveReason tells why a participant was removed from the registry.
type LeaveReason string

const (
	ReasonDisconnect LeaveReason = "disconnect"
	ReasonTimeout    LeaveReason = "timeout"
	// ReasonReplaced is journaled when a new connection registers the same id.
	// Clients never see it: the id stays live.
	ReasonReplaced LeaveReason = "replaced"
)

type JournalKind string

const (
	JournalJoined JournalKind = "joined"
	JournalLeft   JournalKind = "left"
)

// JournalEntry is one line of the presence history kept for operators.
type JournalEntry struct {
	ID       uuid.UUID
	Kind     JournalKind
	PlayerID string
	Reason   LeaveReason
	At       time.Time
}
