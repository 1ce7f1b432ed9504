package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cwrk-planet/meet-service/internal/domain"
	"github.com/cwrk-planet/meet-service/internal/metrics"
	"github.com/cwrk-planet/meet-service/internal/relay"
	"github.com/cwrk-planet/meet-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type Rooms interface {
	JoinRoom(roomID, connID, displayName string) ([]domain.Participant, error)
	LeaveRoom(connID string) bool
	RoomOf(connID string) (string, bool)
}

type Relay interface {
	Signal(ctx context.Context, kind domain.SignalKind, roomID, senderID, target string, payload json.RawMessage) (int, error)
	Chat(ctx context.Context, in relay.ChatInput) (int, error)
}

type Options struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	SendQueue       int
	// MaxMessagesPerSecond <= 0 disables inbound rate limiting.
	MaxMessagesPerSecond float64
	Burst                int
	// Empty = any origin.
	AllowedOrigins []string

	Metrics *metrics.Metrics
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	rooms    Rooms
	relay    Relay
	metrics  *metrics.Metrics

	pingEvery    time.Duration
	writeTimeout time.Duration
	readLimit    int64
	queue        int
	perSecond    float64
	burst        int
}

func NewServer(hub *Hub, rooms Rooms, rl Relay, opts Options) *Server {
	s := &Server{
		hub:          hub,
		rooms:        rooms,
		relay:        rl,
		metrics:      opts.Metrics,
		pingEvery:    opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		readLimit:    opts.MaxMessageBytes,
		queue:        opts.SendQueue,
		perSecond:    opts.MaxMessagesPerSecond,
		burst:        opts.Burst,
	}
	if s.pingEvery <= 0 {
		s.pingEvery = 15 * time.Second
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 5 * time.Second
	}
	if s.readLimit <= 0 {
		s.readLimit = 64 << 10
	}
	if s.queue <= 0 {
		s.queue = 256
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return s
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// WS endpoint: GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	var limiter *rate.Limiter
	if s.perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.perSecond), s.burst)
	}
	c := newClient(uuid.NewString(), conn, s.queue, limiter)
	s.hub.add(c)
	s.metrics.ConnOpened()

	// Request context is detached from the hijacked connection; the client's
	// own lifetime bounds the loops.
	ctx := logger.WithConn(context.WithoutCancel(r.Context()), c.id)
	logger.FromCtx(ctx).Debug("ws connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(ctx, c)

	c.kick()
	s.hub.remove(c)
	s.rooms.LeaveRoom(c.id)
	s.metrics.ConnClosed()
	logger.FromCtx(ctx).Debug("ws disconnected")
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(s.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.FromCtx(ctx).Debug("ws read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))

		if !c.allow() {
			s.metrics.Dropped(metrics.DropRateLimited)
			s.sendError(c, "Rate limit exceeded")
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			s.metrics.Dropped(metrics.DropMalformed)
			s.sendError(c, "Malformed message")
			continue
		}
		if err := s.dispatch(ctx, c, msg); err != nil {
			s.reject(ctx, c, msg.Type, err)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, msg Message) error {
	switch msg.Type {
	case TypeJoinRoom:
		var p JoinRoomPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
		// room-participants goes out through Hub.Welcome.
		_, err := s.rooms.JoinRoom(p.RoomID, c.id, p.DisplayName)
		return err

	case TypeLeaveRoom:
		s.rooms.LeaveRoom(c.id)
		return nil

	case TypeChat:
		var p ChatPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return err
		}
		roomID, err := s.roomFor(c, p.RoomID)
		if err != nil {
			return err
		}
		_, err = s.relay.Chat(ctx, relay.ChatInput{
			RoomID:     roomID,
			SenderID:   c.id,
			SenderName: strings.TrimSpace(p.Sender),
			Target:     p.Target,
			Text:       p.Text,
		})
		return err

	case TypeOffer, TypeAnswer, TypeICECandidate:
		kind := domain.SignalKind(msg.Type)
		var p SignalPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		blob, err := p.blob(kind)
		if err != nil {
			return err
		}
		roomID, err := s.roomFor(c, p.RoomID)
		if err != nil {
			return err
		}
		_, err = s.relay.Signal(ctx, kind, roomID, c.id, p.Target, blob)
		return err

	default:
		s.metrics.Dropped(metrics.DropMalformed)
		s.sendError(c, "Unknown message type: "+msg.Type)
		return nil
	}
}

// roomFor resolves the room a message is relayed into. The connection's own
// membership wins; a payload roomId that disagrees with it is dropped.
func (s *Server) roomFor(c *client, claimed string) (string, error) {
	current, ok := s.rooms.RoomOf(c.id)
	if !ok || (claimed != "" && claimed != current) {
		return "", fmt.Errorf("room %q: %w", claimed, domain.ErrNotInRoom)
	}
	return current, nil
}

func (s *Server) reject(ctx context.Context, c *client, typ string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotInRoom):
		// silent: usually a race with leave or a room switch
		s.metrics.Dropped(metrics.DropNotMember)
		logger.FromCtx(ctx).Debug("ws message outside of room dropped", "type", typ, "err", err)
	case errors.Is(err, domain.ErrRoomNotFound):
		s.sendError(c, "Room not found")
	case errors.Is(err, domain.ErrInvalidMessage):
		s.metrics.Dropped(metrics.DropMalformed)
		s.sendError(c, "Invalid "+typ+" message")
	default:
		logger.FromCtx(ctx).Warn("ws handle failed", "type", typ, "err", err)
		s.sendError(c, "Internal error")
	}
}

func (s *Server) sendError(c *client, text string) {
	s.hub.Deliver(c.id, domain.Event{Type: TypeError, Payload: ErrorPayload{Message: text}})
}

func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case b := <-c.send:
			if err := c.writeFrame(b, s.writeTimeout); err != nil {
				c.kick()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				c.kick()
				return
			}
		case <-c.done:
			return
		}
	}
}
