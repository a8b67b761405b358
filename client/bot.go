// Package client drives simulated participants against a presence server.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"presence-lab/contract"
	"presence-lab/domain"
	"presence-lab/protocol"
	"time"
)

const (
	radius  = 10.0
	stepRad = math.Pi / 32
)

// Bot is one simulated participant walking in a circle.
// It registers with its first update, then sends a new position every interval.
type Bot struct {
	log       *slog.Logger
	id        string
	name      string
	channel   contract.Channel
	interval  time.Duration
	onMessage func(protocol.ServerMessage)
	step      int
}

func NewBot(log *slog.Logger, id, name string, channel contract.Channel, interval time.Duration) *Bot {
	return &Bot{
		log:       log.With("bot", id),
		id:        id,
		name:      name,
		channel:   channel,
		interval:  interval,
		onMessage: func(protocol.ServerMessage) {},
	}
}

// OnMessage registers a callback for every frame the server sends.
func (b *Bot) OnMessage(fn func(protocol.ServerMessage)) *Bot {
	b.onMessage = fn
	return b
}

func (b *Bot) ID() string { return b.id }

// Run returns nil when ctx is done and an error when the server closes the connection.
func (b *Bot) Run(ctx context.Context) error {
	defer func() { _ = b.channel.Close() }()

	if err := b.send(ctx, domain.Update{ID: b.id, Name: &b.name, Position: b.position()}); err != nil {
		return fmt.Errorf("register %s: %w", b.id, err)
	}

	closed := make(chan error, 1)
	go func() { closed <- b.receive(ctx) }()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return fmt.Errorf("connection of %s closed: %w", b.id, err)
		case <-ticker.C:
			b.step++
			if err := b.send(ctx, domain.Update{ID: b.id, Position: b.position()}); err != nil {
				b.log.Warn("Failed to send position", "err", err)
			}
		}
	}
}

func (b *Bot) receive(ctx context.Context) error {
	for {
		raw, err := b.channel.Receive(ctx)
		if err != nil {
			return err
		}
		msg, err := protocol.DecodeServer(raw)
		if err != nil {
			b.log.Debug("Ignoring server frame", "err", err)
			continue
		}
		b.onMessage(msg)
	}
}

func (b *Bot) send(ctx context.Context, u domain.Update) error {
	raw, err := protocol.EncodeUpdate(u)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, b.interval+time.Second)
	defer cancel()
	return b.channel.Send(sendCtx, raw)
}

func (b *Bot) position() *domain.Vec3 {
	angle := float64(b.step) * stepRad
	return &domain.Vec3{X: radius * math.Cos(angle), Z: radius * math.Sin(angle)}
}
