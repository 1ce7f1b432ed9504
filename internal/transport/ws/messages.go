package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cwrk-planet/meet-service/internal/domain"
)

// Типы событий client -> server
const (
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeChat         = "message"
	TypeOffer        = string(domain.SignalOffer)
	TypeAnswer       = string(domain.SignalAnswer)
	TypeICECandidate = string(domain.SignalICECandidate)
)

// Типы событий server -> client (offer/answer/ice-candidate совпадают)
const (
	TypeRoomParticipants = "room-participants"
	TypeUserJoined       = "user-joined"
	TypeUserLeft         = "user-left"
	TypeChatResponse     = "messageResponse"
	TypeError            = "error"
)

// Message is the inbound frame; Payload is decoded per Type. From is only
// set on relayed offer/answer/ice-candidate frames.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type outMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// signalHead is the frame prefix of a relayed offer/answer/ice-candidate;
// the sender's blob follows as payload.
type signalHead struct {
	Type string `json:"type"`
	From string `json:"from"`
}

type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

func (p *JoinRoomPayload) validate() error {
	p.RoomID = strings.TrimSpace(p.RoomID)
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required: %w", domain.ErrInvalidMessage)
	}
	return nil
}

type ChatPayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
	Target string `json:"target,omitempty"`
}

func (p *ChatPayload) validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("text is required: %w", domain.ErrInvalidMessage)
	}
	return nil
}

// SignalPayload covers offer, answer and ice-candidate: exactly one of the
// blob fields is set, matching the frame type.
type SignalPayload struct {
	RoomID    string          `json:"roomId"`
	Target    string          `json:"target,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (p *SignalPayload) blob(kind domain.SignalKind) (json.RawMessage, error) {
	var raw json.RawMessage
	switch kind {
	case domain.SignalOffer:
		raw = p.Offer
	case domain.SignalAnswer:
		raw = p.Answer
	case domain.SignalICECandidate:
		raw = p.Candidate
	}
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%s payload is required: %w", kind, domain.ErrInvalidMessage)
	}
	return raw, nil
}

type ParticipantItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomParticipantsPayload struct {
	RoomID       string            `json:"roomId"`
	Participants []ParticipantItem `json:"participants"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload: %w", domain.ErrInvalidMessage)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidMessage)
	}
	return nil
}

func participantItems(ps []domain.Participant) []ParticipantItem {
	items := make([]ParticipantItem, 0, len(ps))
	for _, p := range ps {
		items = append(items, ParticipantItem{ID: p.ConnectionID, Name: p.DisplayName})
	}
	return items
}

// encodeEvent renders ev as a wire frame. Signal payloads are spliced in
// byte for byte: {"type":..,"from":..,"payload":<blob>}.
func encodeEvent(ev domain.Event) ([]byte, error) {
	sig, ok := ev.Payload.(domain.Signal)
	if !ok {
		return json.Marshal(outMessage{Type: ev.Type, Payload: ev.Payload})
	}

	blob := []byte(sig.Payload)
	if len(bytes.TrimSpace(blob)) == 0 {
		blob = []byte("null")
	} else if !json.Valid(blob) {
		return nil, fmt.Errorf("%s payload: %w", ev.Type, domain.ErrInvalidMessage)
	}
	head, err := json.Marshal(signalHead{Type: ev.Type, From: sig.From})
	if err != nil {
		return nil, err
	}

	const key = `,"payload":`
	out := make([]byte, 0, len(head)+len(key)+len(blob))
	out = append(out, head[:len(head)-1]...)
	out = append(out, key...)
	out = append(out, blob...)
	return append(out, '}'), nil
}
