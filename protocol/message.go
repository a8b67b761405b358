// Package protocol maps JSON wire messages to domain updates and domain events to JSON frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ClientUpdate is the only message a client may send.
// The first one on a connection registers the participant, the next ones are merged.
// Color and name lengths are counted in runes.
type ClientUpdate struct {
	Type     string             `json:"type" validate:"required,eq=player_update"`
	ID       string             `json:"id" validate:"required"`
	Position *domain.Vec3       `json:"position,omitempty"`
	Rotation *domain.Quaternion `json:"rotation,omitempty"`
	Color    *string            `json:"color,omitempty" validate:"omitempty,max=32"`
	Name     *string            `json:"name,omitempty" validate:"omitempty,max=64"`
}

// ServerMessage is the union of every frame the server sends.
// Players is set for state snapshots, ID for joined and left notifications.
type ServerMessage struct {
	Type    event.Type      `json:"type"`
	ID      string          `json:"id,omitempty"`
	Players domain.Snapshot `json:"players,omitempty"`
}

type stateMessage struct {
	Type    event.Type      `json:"type"`
	Players domain.Snapshot `json:"players"`
}

type presenceMessage struct {
	Type event.Type `json:"type"`
	ID   string     `json:"id"`
}

// DecodeUpdate parses and validates a client message.
// The returned error wraps ErrMalformedMessage, ErrUnknownMessageType or ErrMissingID.
func DecodeUpdate(raw []byte) (domain.Update, error) {
	var msg ClientUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Update{}, fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return domain.Update{}, toProtocolError(err)
	}
	return domain.Update{
		ID:       msg.ID,
		Position: msg.Position,
		Rotation: msg.Rotation,
		Color:    msg.Color,
		Name:     msg.Name,
	}, nil
}

// EncodeUpdate is the client side of DecodeUpdate.
func EncodeUpdate(u domain.Update) ([]byte, error) {
	return json.Marshal(ClientUpdate{
		Type:     string(event.StateUpdatedType),
		ID:       u.ID,
		Position: u.Position,
		Rotation: u.Rotation,
		Color:    u.Color,
		Name:     u.Name,
	})
}

// Encode serializes a domain event into the frame sent to every client.
func Encode(e event.DomainEvent) ([]byte, error) {
	switch evt := e.(type) {
	case event.StateUpdated:
		players := evt.Players
		if players == nil {
			players = domain.Snapshot{}
		}
		return json.Marshal(stateMessage{Type: evt.Type(), Players: players})
	case event.PlayerJoined:
		return json.Marshal(presenceMessage{Type: evt.Type(), ID: evt.ID})
	case event.PlayerLeft:
		return json.Marshal(presenceMessage{Type: evt.Type(), ID: evt.ID})
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrUnknownMessageType, e)
	}
}

// DecodeServer parses a frame produced by Encode.
func DecodeServer(raw []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
	switch msg.Type {
	case event.StateUpdatedType, event.PlayerJoinedType, event.PlayerLeftType:
		return msg, nil
	default:
		return ServerMessage{}, fmt.Errorf("%w: %q", errors.ErrUnknownMessageType, msg.Type)
	}
}

func toProtocolError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
	switch validationErrors[0].Field() {
	case "Type":
		return fmt.Errorf("%w: %q", errors.ErrUnknownMessageType, validationErrors[0].Value())
	case "ID":
		return errors.ErrMissingID
	default:
		return fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
}
