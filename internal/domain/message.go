package domain

import (
	"encoding/json"
	"time"
)

// SignalKind is one of the WebRTC negotiation messages relayed between peers.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// Event is an outbound server->client message before wire encoding.
type Event struct {
	Type    string
	Payload any
}

// Signal carries a negotiation blob. Payload is never decoded by the server;
// the wire encoder writes its bytes into the outbound frame as they came in.
type Signal struct {
	From    string
	Payload json.RawMessage
}

type ChatMessage struct {
	ID           string
	RoomID       string
	SenderID     string
	Sender       string
	Text         string
	SentAt       time.Time
	Translations map[Language]string
}

// MarshalJSON flattens translations into translatedText<Lang> keys,
// e.g. translatedTextEn, translatedTextHi.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":       m.ID,
		"roomId":   m.RoomID,
		"senderId": m.SenderID,
		"sender":   m.Sender,
		"text":     m.Text,
		"ts":       m.SentAt.UnixMilli(),
	}
	for lang, text := range m.Translations {
		out["translatedText"+lang.Suffix()] = text
	}
	return json.Marshal(out)
}
