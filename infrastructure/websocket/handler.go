package websocket

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"presence-lab/errors"
	"presence-lab/services"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "presence-lab/websocket"

// Handler upgrades HTTP requests and hands each connection to the presence service.
type Handler struct {
	ctx            context.Context
	log            *slog.Logger
	service        services.IPresenceService
	upgrader       websocket.Upgrader
	maxMessageSize int64
	tracer         trace.Tracer
}

// NewHandler ties every connection to ctx: canceling it closes them all.
// An empty origins list accepts any origin.
func NewHandler(ctx context.Context, log *slog.Logger, service services.IPresenceService,
	origins []string, maxMessageSize int64) *Handler {
	return &Handler{
		ctx:     ctx,
		log:     log.With("transport", "websocket"),
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     CheckOrigin(origins),
		},
		maxMessageSize: maxMessageSize,
		tracer:         otel.Tracer(tracerName),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered the client
		h.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.maxMessageSize)

	ctx, span := h.tracer.Start(h.ctx, "presence.connection",
		trace.WithAttributes(attribute.String("net.peer.addr", r.RemoteAddr)))
	defer span.End()

	channel := NewChannel(conn)
	defer func() { _ = channel.Close() }()
	// Receive does not watch ctx, closing the connection unblocks it
	stop := context.AfterFunc(ctx, func() { _ = channel.Close() })
	defer stop()

	err = h.service.Serve(ctx, channel)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrHandshakeAborted):
		h.log.Debug("Connection closed before handshake", "remote", r.RemoteAddr)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Warn("Connection rejected", "remote", r.RemoteAddr, "error", err)
	}
}

// CheckOrigin accepts requests without Origin header (non browser clients)
// and browser requests from one of origins.
func CheckOrigin(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(origins, origin)
	}
}
