package services

import (
	"context"
	"io"
	"log/slog"
	"presence-lab/contract"
	"presence-lab/domain"
	"presence-lab/domain/event"
	"presence-lab/errors"
	"presence-lab/mocks"
	"presence-lab/observability"
	"presence-lab/protocol"
	"presence-lab/runtime"
	"presence-lab/runtime/workers"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const waitFor = time.Second

// pipe is an in-memory client connection.
// push plays a client message, Messages returns what the server sent so far.
type pipe struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	sent   []protocol.ServerMessage
	broken bool
}

func newPipe() *pipe {
	return &pipe{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipe) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.inbox:
		return msg, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Send(_ context.Context, raw []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	if p.broken {
		return io.ErrUnexpectedEOF
	}
	msg, err := protocol.DecodeServer(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipe) push(raw string) { p.inbox <- []byte(raw) }

func (p *pipe) Messages() []protocol.ServerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ServerMessage(nil), p.sent...)
}

func (p *pipe) IsClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

type harness struct {
	ctx         context.Context
	registry    *runtime.Registry
	sessions    *runtime.Sessions
	broadcaster *runtime.Broadcaster
	monitoring  *observability.MonitoringManager
	service     *PresenceService
}

func newHarness(t *testing.T) *harness {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := runtime.NewRegistry()
	sessions := runtime.NewSessions()
	monitoring := observability.NewMonitoringManager(prometheus.NewRegistry())
	broadcaster := runtime.NewBroadcaster(log, sessions, monitoring)
	return &harness{
		ctx:         ctx,
		registry:    registry,
		sessions:    sessions,
		broadcaster: broadcaster,
		monitoring:  monitoring,
		service:     NewPresenceService(log, registry, sessions, broadcaster, nil, monitoring, 16, time.Second),
	}
}

// counter reads one labelled series of a counter vector from the monitoring registry.
func (h *harness) counter(t *testing.T, name, label, value string) float64 {
	families, err := h.monitoring.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// leftFrames counts the player_left frames about id received by p.
func leftFrames(p *pipe, id string) int {
	return len(lo.Filter(p.Messages(), func(msg protocol.ServerMessage, _ int) bool {
		return msg.Type == event.PlayerLeftType && msg.ID == id
	}))
}

func (h *harness) connect(p *pipe) <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.service.Serve(h.ctx, p) }()
	return done
}

// join connects a client registered as id and waits for its own join frames.
func (h *harness) join(t *testing.T, id string) (*pipe, <-chan error) {
	p := newPipe()
	done := h.connect(p)
	p.push(`{"type":"player_update","id":"` + id + `"}`)
	require.Eventually(t, func() bool { return len(p.Messages()) >= 2 }, waitFor, 5*time.Millisecond)
	return p, done
}

func TestPresenceService_Join_Broadcasts_Joined_Then_Snapshot(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	observer, _ := h.join(t, "obs")

	// When p1 registers with a position only
	p1 := newPipe()
	h.connect(p1)
	p1.push(`{"type":"player_update","id":"p1","position":{"x":1,"y":0,"z":0}}`)

	// Then the observer gets player_joined then a snapshot with p1 and its defaults
	req.Eventually(func() bool { return len(observer.Messages()) == 4 }, waitFor, 5*time.Millisecond)
	messages := observer.Messages()[2:]
	req.Equal(event.PlayerJoinedType, messages[0].Type)
	req.Equal("p1", messages[0].ID)
	req.Equal(event.StateUpdatedType, messages[1].Type)
	req.Equal(domain.PublicState{
		Position: domain.Vec3{X: 1},
		Rotation: domain.IdentityRotation,
		Color:    domain.DefaultColor,
		Name:     "Player_p1",
	}, messages[1].Players["p1"])
	req.Len(messages[1].Players, 2)
	req.Equal(uint64(2), h.monitoring.GetLatest().Joins)
}

func TestPresenceService_Partial_Update_Keeps_Other_Fields(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	observer, _ := h.join(t, "obs")

	p1 := newPipe()
	h.connect(p1)
	p1.push(`{"type":"player_update","id":"p1","position":{"x":1,"y":2,"z":3}}`)
	req.Eventually(func() bool { return len(observer.Messages()) == 4 }, waitFor, 5*time.Millisecond)

	// When p1 only sends a color
	p1.push(`{"type":"player_update","id":"p1","color":"#ff0000"}`)

	// Then the next snapshot keeps the position and shows the color
	req.Eventually(func() bool { return len(observer.Messages()) == 5 }, waitFor, 5*time.Millisecond)
	state := observer.Messages()[4]
	req.Equal(event.StateUpdatedType, state.Type)
	req.Equal(domain.Vec3{X: 1, Y: 2, Z: 3}, state.Players["p1"].Position)
	req.Equal("#ff0000", state.Players["p1"].Color)
	req.Equal(uint64(1), h.monitoring.GetLatest().UpdatesAccepted)
}

func TestPresenceService_Silent_Close_Broadcasts_Left_Once(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	observer, _ := h.join(t, "obs")
	p1, done := h.join(t, "p1")
	req.Eventually(func() bool { return len(observer.Messages()) == 4 }, waitFor, 5*time.Millisecond)

	// When p1's channel closes without any further message
	req.NoError(p1.Close())

	// Then the connection ends normally, p1 is gone and the observer gets one player_left
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("Serve should return once the channel is closed")
	}
	req.NotContains(h.registry.Snapshot(), "p1")
	req.Eventually(func() bool { return len(observer.Messages()) == 5 }, waitFor, 5*time.Millisecond)
	left := observer.Messages()[4]
	req.Equal(event.PlayerLeftType, left.Type)
	req.Equal("p1", left.ID)
	req.Never(func() bool { return len(observer.Messages()) > 5 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPresenceService_Idle_Participant_Is_Evicted_By_Sweeper(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	start := time.Now()
	clock := start
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	h.service.WithClock(now)

	observer, _ := h.join(t, "obs")
	p1, done := h.join(t, "p1")
	req.Eventually(func() bool { return len(observer.Messages()) == 4 }, waitFor, 5*time.Millisecond)

	// Given the observer stays active while p1 goes silent for longer than the threshold
	mu.Lock()
	clock = start.Add(6 * time.Second)
	mu.Unlock()
	observer.push(`{"type":"player_update","id":"obs"}`)
	req.Eventually(func() bool { return len(observer.Messages()) == 5 }, waitFor, 5*time.Millisecond)

	// When the sweeper runs
	sweeper := workers.NewSweeperWorker(log, h.registry, h.broadcaster, h.monitoring, time.Second, 5*time.Second).
		WithClock(now)
	req.Equal([]string{"p1"}, sweeper.Sweep(h.ctx))

	// Then p1 is evicted although its channel was open, and left is broadcast once
	req.True(p1.IsClosed())
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("evicted connection should end")
	}
	req.Eventually(func() bool { return len(observer.Messages()) == 6 }, waitFor, 5*time.Millisecond)
	req.Equal(protocol.ServerMessage{Type: event.PlayerLeftType, ID: "p1"}, observer.Messages()[5])
	req.Never(func() bool { return len(observer.Messages()) > 6 }, 50*time.Millisecond, 5*time.Millisecond)
	req.Equal(uint64(1), h.monitoring.GetLatest().Evictions)
}

func TestPresenceService_Discards_Malformed_And_Foreign_Messages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	observer, _ := h.join(t, "obs")
	p1, _ := h.join(t, "p1")
	req.Eventually(func() bool { return len(observer.Messages()) == 4 }, waitFor, 5*time.Millisecond)

	// When p1 sends garbage, an unknown type and an update for someone else
	p1.push(`not json`)
	p1.push(`{"type":"chat","id":"p1"}`)
	p1.push(`{"type":"player_update","id":"obs","color":"#000000"}`)
	// And then a valid update
	p1.push(`{"type":"player_update","id":"p1","name":"Alice"}`)

	// Then only the valid update is broadcast and the connection stays open
	req.Eventually(func() bool { return len(observer.Messages()) == 5 }, waitFor, 5*time.Millisecond)
	state := observer.Messages()[4]
	req.Equal("Alice", state.Players["p1"].Name)
	req.Equal(domain.DefaultColor, state.Players["obs"].Color)
	req.False(p1.IsClosed())
	req.Equal(uint64(3), h.monitoring.GetLatest().UpdatesDiscarded)
}

func TestPresenceService_Reregistration_Kicks_Previous_Connection(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var mu sync.Mutex
	var recorded []event.DomainEvent
	sink := mocks.NewMockEventSink(ctrl)
	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e event.DomainEvent) error {
			mu.Lock()
			defer mu.Unlock()
			recorded = append(recorded, e)
			return nil
		}).
		AnyTimes()
	h.broadcaster.Add(sink)
	observer, _ := h.join(t, "obs")
	first, firstDone := h.join(t, "p1")

	// When a second connection registers the same id
	second, _ := h.join(t, "p1")

	// Then the first connection is closed without any player_left
	req.Eventually(first.IsClosed, waitFor, 5*time.Millisecond)
	select {
	case err := <-firstDone:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("kicked connection should end")
	}
	req.Equal(2, h.registry.Len())
	req.Never(func() bool {
		for _, msg := range observer.Messages() {
			if msg.Type == event.PlayerLeftType {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 5*time.Millisecond)

	// And the replacement is journaled and counted as a leave
	mu.Lock()
	replaced := lo.Filter(recorded, func(e event.DomainEvent, _ int) bool {
		left, ok := e.(event.PlayerLeft)
		return ok && left.ID == "p1" && left.Reason == domain.ReasonReplaced
	})
	mu.Unlock()
	req.Len(replaced, 1)
	req.Equal(1.0, h.counter(t, "presence_leaves_total", "reason", string(domain.ReasonReplaced)))

	// And the replacement still owns p1 until it closes
	req.NoError(second.Close())
	req.Eventually(func() bool {
		messages := observer.Messages()
		last := messages[len(messages)-1]
		return last.Type == event.PlayerLeftType && last.ID == "p1"
	}, waitFor, 5*time.Millisecond)
	req.Equal(1, h.registry.Len())
}

func TestPresenceService_Invalid_Handshake_Closes_Channel(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	channel := mocks.NewMockChannel(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)
	connections := mocks.NewMockConnections(ctrl)

	// Given a first message without id
	channel.EXPECT().Receive(gomock.Any()).Return([]byte(`{"type":"player_update"}`), nil).Times(1)
	// Then the channel is closed, nothing is registered or broadcast
	channel.EXPECT().Close().Return(nil).Times(1)
	channel.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)
	registry.EXPECT().Register(gomock.Any(), gomock.Any()).Times(0)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)
	// And the connection is tracked only while it is open
	var attached string
	connections.EXPECT().Attach(gomock.Any()).
		Do(func(recipient contract.Recipient) { attached = recipient.SessionID() }).
		Times(1)
	connections.EXPECT().Detach(gomock.Any()).
		Do(func(sessionID string) { req.Equal(attached, sessionID) }).
		Times(1)

	service := NewPresenceService(log, registry, connections, publisher, nil, nil, 4, time.Second)
	err := service.Serve(context.Background(), channel)

	req.ErrorIs(err, errors.ErrInvalidHandshake)
	req.ErrorIs(err, errors.ErrMissingID)
}

func TestPresenceService_Closed_Before_Handshake_Aborts_Silently(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	channel := mocks.NewMockChannel(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)

	channel.EXPECT().Receive(gomock.Any()).Return(nil, io.EOF).Times(1)
	channel.EXPECT().Close().Return(nil).AnyTimes()
	registry.EXPECT().Register(gomock.Any(), gomock.Any()).Times(0)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	service := NewPresenceService(log, registry, runtime.NewSessions(), publisher, nil, nil, 4, time.Second)

	req.ErrorIs(service.Serve(context.Background(), channel), errors.ErrHandshakeAborted)
}

func TestPresenceService_Display_Name_Is_Moderated(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	censor := mocks.NewMockCensor(ctrl)
	censor.EXPECT().Censor("The admin").Return("The *****", []string{"admin"}).Times(1)
	h.service.censor = censor

	// When p1 registers with a reserved word in its name
	p1 := newPipe()
	h.connect(p1)
	p1.push(`{"type":"player_update","id":"p1","name":"The admin"}`)

	// Then the stored name is masked
	req.Eventually(func() bool { return len(p1.Messages()) == 2 }, waitFor, 5*time.Millisecond)
	req.Equal("The *****", p1.Messages()[1].Players["p1"].Name)
}

func TestPresenceService_Leave_Is_Exactly_Once(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := mocks.NewMockIRegistry(ctrl)
	publisher := mocks.NewMockPublisher(ctrl)
	gomock.InOrder(
		registry.EXPECT().Remove("p1", "s1").Return(true).Times(1),
		registry.EXPECT().Remove("p1", "s1").Return(false).Times(1),
	)
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.AssignableToTypeOf(event.PlayerLeft{})).
		Return(nil).
		Times(1)

	service := NewPresenceService(log, registry, runtime.NewSessions(), publisher, nil, nil, 4, time.Second)

	req.True(service.Leave(context.Background(), "p1", "s1"))
	req.False(service.Leave(context.Background(), "p1", "s1"))
}

func TestPresenceService_Unregistered_Connection_Receives_Broadcasts(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given a connection that has not sent its handshake yet
	watcher := newPipe()
	watcherDone := h.connect(watcher)
	req.Eventually(func() bool { return h.sessions.Len() == 1 }, waitFor, 5*time.Millisecond)

	// When p1 joins then leaves
	p1, _ := h.join(t, "p1")
	req.NoError(p1.Close())

	// Then the watcher gets every frame although it is not a participant
	req.Eventually(func() bool { return len(watcher.Messages()) == 3 }, waitFor, 5*time.Millisecond)
	messages := watcher.Messages()
	req.Equal(protocol.ServerMessage{Type: event.PlayerJoinedType, ID: "p1"}, messages[0])
	req.Equal(event.StateUpdatedType, messages[1].Type)
	req.Equal(protocol.ServerMessage{Type: event.PlayerLeftType, ID: "p1"}, messages[2])
	req.Zero(h.registry.Len())

	// And closing it only drops the connection
	req.NoError(watcher.Close())
	select {
	case err := <-watcherDone:
		req.ErrorIs(err, errors.ErrHandshakeAborted)
	case <-time.After(waitFor):
		req.Fail("unregistered connection should end")
	}
	req.Zero(h.sessions.Len())
}

func TestPresenceService_Failed_Writes_Are_Counted(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given a client whose transport refuses every write
	broken := newPipe()
	broken.broken = true
	h.connect(broken)

	// When it registers, its own joined and state frames cannot be written
	broken.push(`{"type":"player_update","id":"p1"}`)

	// Then both failures are counted
	req.Eventually(func() bool {
		return h.counter(t, "presence_deliveries_total", "status", observability.StatusFailed) == 2
	}, waitFor, 5*time.Millisecond)
	req.Empty(broken.Messages())
	req.Equal(1, h.registry.Len())
}

func TestPresenceService_Concurrent_Leave_And_Sweep_Broadcast_One_Left(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	for i := 0; i < 50; i++ {
		h := newHarness(t)
		start := time.Now()
		observer, _ := h.join(t, "obs")

		// Given p1 registered long ago and idle since
		p1 := newPipe()
		session := runtime.NewSession(log, p1, 16, time.Second)
		go func() { _ = session.Run(h.ctx) }()
		h.sessions.Attach(session)
		p1.push(`{"type":"player_update","id":"p1"}`)
		h.service.WithClock(func() time.Time { return start.Add(-time.Minute) })
		_, err := h.service.Handshake(h.ctx, p1, session)
		req.NoError(err)
		h.service.WithClock(time.Now)

		sweeper := workers.NewSweeperWorker(log, h.registry, h.broadcaster, h.monitoring, time.Second, 5*time.Second).
			WithClock(func() time.Time { return start })

		// When its disconnect and the sweep race
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.service.Leave(h.ctx, "p1", session.SessionID())
		}()
		go func() {
			defer wg.Done()
			sweeper.Sweep(h.ctx)
		}()
		wg.Wait()

		// Then the observer is told exactly once
		req.Eventually(func() bool { return leftFrames(observer, "p1") >= 1 }, waitFor, 5*time.Millisecond)
		req.Never(func() bool { return leftFrames(observer, "p1") > 1 }, 20*time.Millisecond, 5*time.Millisecond)
		req.Equal(uint64(1), h.monitoring.GetLatest().Leaves)
		req.NotContains(h.registry.Snapshot(), "p1")
	}
}
