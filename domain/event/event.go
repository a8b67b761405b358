package event

import (
	"presence-lab/domain"
	"time"
)

type Type string

const (
	PlayerJoinedType Type = "player_joined"
	PlayerLeftType   Type = "player_left"
	StateUpdatedType Type = "player_update"
)

// DomainEvent is anything the broadcaster fans out to connected sessions and permanent sinks.
type DomainEvent interface {
	Type() Type
}

type PlayerJoined struct {
	ID string
	At time.Time
}

func (PlayerJoined) Type() Type { return PlayerJoinedType }

type PlayerLeft struct {
	ID     string
	Reason domain.LeaveReason
	At     time.Time
}

func (PlayerLeft) Type() Type { return PlayerLeftType }

// StateUpdated carries the registry snapshot taken at the triggering mutation.
type StateUpdated struct {
	Players domain.Snapshot
	At      time.Time
}

func (StateUpdated) Type() Type { return StateUpdatedType }
