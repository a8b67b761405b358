// Package domain contains core concepts of the presence system.
// This file defines the Participant entity and how updates merge into it.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"
)

const (
	DefaultColor     = "#FFFFFF"
	defaultNameStart = "Player_"
	defaultNameRunes = 4
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityRotation is the quaternion of a participant that never sent a rotation.
var IdentityRotation = Quaternion{W: 1}

// Participant is one tracked connected identity.
// LastActiveAt is internal bookkeeping and never leaves the server.
type Participant struct {
	ID           string
	Position     Vec3
	Rotation     Quaternion
	Color        string
	Name         string
	LastActiveAt time.Time
}

// Update carries the fields of a player_update message.
// A nil field means "absent": the current value is kept on merge.
type Update struct {
	ID       string
	Position *Vec3
	Rotation *Quaternion
	Color    *string
	Name     *string
}

// PublicState is what other clients see of a participant.
type PublicState struct {
	Position Vec3       `json:"position"`
	Rotation Quaternion `json:"rotation"`
	Color    string     `json:"color"`
	Name     string     `json:"name"`
}

// Snapshot maps participant ids to their public state.
type Snapshot map[string]PublicState

// DefaultName derives a display name from the first runes of the id.
func DefaultName(id string) string {
	r := []rune(id)
	if len(r) > defaultNameRunes {
		r = r[:defaultNameRunes]
	}
	return defaultNameStart + string(r)
}

// NewParticipant builds the initial record of a registration, falling back to defaults for absent fields.
func NewParticipant(u Update, now time.Time) Participant {
	p := Participant{
		ID:           u.ID,
		Rotation:     IdentityRotation,
		Color:        DefaultColor,
		Name:         DefaultName(u.ID),
		LastActiveAt: now,
	}
	p.apply(u)
	return p
}

// Merge applies the fields present in u and refreshes LastActiveAt.
// LastActiveAt never moves backwards, even if now is older than the last accepted update.
func (p *Participant) Merge(u Update, now time.Time) {
	p.apply(u)
	p.Touch(now)
}

// Touch marks the participant active at now, keeping LastActiveAt non-decreasing.
func (p *Participant) Touch(now time.Time) {
	if now.After(p.LastActiveAt) {
		p.LastActiveAt = now
	}
}

// IdleFor returns how long the participant has been silent at now.
func (p Participant) IdleFor(now time.Time) time.Duration {
	return now.Sub(p.LastActiveAt)
}

func (p Participant) Public() PublicState {
	return PublicState{
		Position: p.Position,
		Rotation: p.Rotation,
		Color:    p.Color,
		Name:     p.Name,
	}
}

func (p *Participant) apply(u Update) {
	if u.Position != nil {
		p.Position = *u.Position
	}
	if u.Rotation != nil {
		p.Rotation = *u.Rotation
	}
	if u.Color != nil {
		p.Color = *u.Color
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
}
