package domain

import "time"

type Participant struct {
	ConnectionID string
	DisplayName  string
	RoomID       string
	JoinedAt     time.Time
}
