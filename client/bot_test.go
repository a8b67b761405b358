package client

import (
	"context"
	"io"
	"log/slog"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/mocks"
	"presence-lab/protocol"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBot_Registers_Then_Walks(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	channel := mocks.NewMockChannel(ctrl)

	sent := make(chan domain.Update, 16)
	channel.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw []byte) error {
			update, err := protocol.DecodeUpdate(raw)
			req.NoError(err)
			sent <- update
			return nil
		}).
		AnyTimes()
	channel.EXPECT().Receive(gomock.Any()).
		DoAndReturn(func(ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).
		AnyTimes()
	channel.EXPECT().Close().Return(nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewBot(log, "bot-1", "Robot", channel, 5*time.Millisecond).Run(ctx) }()

	// Then the first update carries the name, the next ones only a new position
	first := <-sent
	req.Equal("bot-1", first.ID)
	req.Equal("Robot", *first.Name)
	req.Equal(10.0, first.Position.X)
	second := <-sent
	req.Nil(second.Name)
	req.NotEqual(first.Position, second.Position)

	cancel()
	req.NoError(<-done)
}

func TestBot_Reports_Server_Messages_And_Closure(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	channel := mocks.NewMockChannel(ctrl)

	channel.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	gomock.InOrder(
		channel.EXPECT().Receive(gomock.Any()).Return([]byte(`{"type":"player_joined","id":"p1"}`), nil),
		channel.EXPECT().Receive(gomock.Any()).Return([]byte(`garbage`), nil),
		channel.EXPECT().Receive(gomock.Any()).Return([]byte(`{"type":"player_left","id":"p1"}`), nil),
		channel.EXPECT().Receive(gomock.Any()).Return(nil, io.EOF),
	)
	channel.EXPECT().Close().Return(nil).Times(1)

	var received []protocol.ServerMessage
	bot := NewBot(log, "bot-1", "Robot", channel, time.Hour).
		OnMessage(func(msg protocol.ServerMessage) { received = append(received, msg) })

	err := bot.Run(context.Background())

	req.ErrorIs(err, io.EOF)
	req.Equal([]protocol.ServerMessage{
		{Type: event.PlayerJoinedType, ID: "p1"},
		{Type: event.PlayerLeftType, ID: "p1"},
	}, received)
}
