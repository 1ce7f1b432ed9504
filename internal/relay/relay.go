package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cwrk-planet/meet-service/internal/domain"
	"github.com/cwrk-planet/meet-service/internal/metrics"
	"github.com/cwrk-planet/meet-service/internal/translate"
	"github.com/cwrk-planet/meet-service/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	EventChat = "messageResponse"

	MaxChatRunes = 4000
)

// Rooms is the part of the registry the relay needs.
type Rooms interface {
	Members(roomID string) ([]domain.Participant, error)
}

// Deliverer enqueues an event for one connection. It returns false when the
// connection is gone or cannot accept more data.
type Deliverer interface {
	Deliver(connID string, ev domain.Event) bool
}

type Options struct {
	Translator translate.Translator
	Languages  []domain.Language
	// Timeout bounds the whole translation fan-out of one chat message.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Relay routes negotiation payloads and chat inside a room. It keeps no
// state of its own: payloads are forwarded and forgotten.
type Relay struct {
	rooms Rooms
	out   Deliverer

	translator translate.Translator
	languages  []domain.Language
	timeout    time.Duration
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

func New(rooms Rooms, out Deliverer, opts Options) *Relay {
	r := &Relay{
		rooms:      rooms,
		out:        out,
		translator: opts.Translator,
		languages:  opts.Languages,
		timeout:    opts.Timeout,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		now:        opts.Now,
	}
	if r.translator == nil {
		r.translator = translate.Mock{}
	}
	if r.timeout <= 0 {
		r.timeout = 3 * time.Second
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("github.com/cwrk-planet/meet-service/internal/relay")
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Signal forwards an offer, answer or ICE candidate. With a target only that
// member receives it, otherwise every member except the sender does.
// Messages for rooms that are gone, or from connections that are not
// members, are dropped: negotiation races with teardown.
func (r *Relay) Signal(ctx context.Context, kind domain.SignalKind, roomID, senderID, target string, payload json.RawMessage) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("signal kind %q: %w", kind, domain.ErrInvalidMessage)
	}
	ctx = logger.WithRoom(ctx, roomID)
	ctx, span := r.tracer.Start(ctx, "relay.signal", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("signal.kind", string(kind)),
	))
	defer span.End()

	members, ok := r.membersOf(ctx, roomID, senderID)
	if !ok {
		return 0, nil
	}

	recipients, ok := pick(members, senderID, target, false)
	if !ok {
		r.drop(ctx, metrics.DropUnknownTarget, roomID, senderID, string(kind))
		return 0, nil
	}

	ev := domain.Event{
		Type:    string(kind),
		Payload: domain.Signal{From: senderID, Payload: payload},
	}
	n := r.deliver(recipients, ev)
	r.metrics.Relayed(string(kind), n)
	span.SetAttributes(attribute.Int("relay.recipients", n))
	return n, nil
}

type ChatInput struct {
	RoomID   string
	SenderID string
	// SenderName is the client-supplied label; the participant's display
	// name is used when empty.
	SenderName string
	Target     string
	Text       string
}

// Chat broadcasts a chat line with one translation per configured language.
// Unlike Signal the sender is always part of the delivery set.
func (r *Relay) Chat(ctx context.Context, in ChatInput) (int, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return 0, fmt.Errorf("empty chat message: %w", domain.ErrInvalidMessage)
	}
	if utf8.RuneCountInString(text) > MaxChatRunes {
		return 0, fmt.Errorf("chat message too long: %w", domain.ErrInvalidMessage)
	}

	ctx = logger.WithRoom(ctx, in.RoomID)
	ctx, span := r.tracer.Start(ctx, "relay.chat", trace.WithAttributes(
		attribute.String("room.id", in.RoomID),
	))
	defer span.End()

	members, ok := r.membersOf(ctx, in.RoomID, in.SenderID)
	if !ok {
		return 0, nil
	}
	sender := in.SenderName
	if sender == "" {
		for _, p := range members {
			if p.ConnectionID == in.SenderID {
				sender = p.DisplayName
				break
			}
		}
	}

	msg := domain.ChatMessage{
		ID:           uuid.NewString(),
		RoomID:       in.RoomID,
		SenderID:     in.SenderID,
		Sender:       sender,
		Text:         text,
		SentAt:       r.now(),
		Translations: r.translateAll(ctx, text),
	}

	// Membership may have changed while translating; whoever left in the
	// meantime is not delivered to.
	members, ok = r.membersOf(ctx, in.RoomID, in.SenderID)
	if !ok {
		return 0, nil
	}
	recipients, ok := pick(members, in.SenderID, in.Target, true)
	if !ok {
		r.drop(ctx, metrics.DropUnknownTarget, in.RoomID, in.SenderID, EventChat)
		return 0, nil
	}

	n := r.deliver(recipients, domain.Event{Type: EventChat, Payload: msg})
	r.metrics.Relayed("chat", n)
	return n, nil
}

func (r *Relay) translateAll(ctx context.Context, text string) map[domain.Language]string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make([]string, len(r.languages))
	var g errgroup.Group
	for i, lang := range r.languages {
		g.Go(func() error {
			out, err := r.translator.Translate(ctx, text, lang)
			if err != nil {
				r.metrics.TranslationFailed(string(lang))
				logger.FromCtx(ctx).Debug("translation failed, using original text",
					"lang", lang, "err", err)
				out = text
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[domain.Language]string, len(r.languages))
	for i, lang := range r.languages {
		out[lang] = results[i]
	}
	return out
}

// membersOf returns the room members if the room exists and the sender is
// one of them.
func (r *Relay) membersOf(ctx context.Context, roomID, senderID string) ([]domain.Participant, bool) {
	members, err := r.rooms.Members(roomID)
	if err != nil {
		r.drop(ctx, metrics.DropRoomGone, roomID, senderID, "")
		return nil, false
	}
	for _, p := range members {
		if p.ConnectionID == senderID {
			return members, true
		}
	}
	r.drop(ctx, metrics.DropNotMember, roomID, senderID, "")
	return nil, false
}

// pick selects recipients. A target must be a room member.
func pick(members []domain.Participant, senderID, target string, includeSender bool) ([]string, bool) {
	if target != "" {
		for _, p := range members {
			if p.ConnectionID == target {
				if includeSender && target != senderID {
					return []string{target, senderID}, true
				}
				return []string{target}, true
			}
		}
		return nil, false
	}

	out := make([]string, 0, len(members))
	for _, p := range members {
		if p.ConnectionID == senderID && !includeSender {
			continue
		}
		out = append(out, p.ConnectionID)
	}
	return out, true
}

func (r *Relay) deliver(recipients []string, ev domain.Event) int {
	n := 0
	for _, id := range recipients {
		if r.out.Deliver(id, ev) {
			n++
		}
	}
	return n
}

func (r *Relay) drop(ctx context.Context, reason, roomID, senderID, kind string) {
	r.metrics.Dropped(reason)
	ctx = logger.With(ctx, logger.Room(roomID), logger.Conn(senderID))
	logger.FromCtx(ctx).Debug("relay dropped message",
		slog.String("reason", reason),
		slog.String("kind", kind))
}
