package domain

import "time"

// Room is a read-only snapshot of a meeting room.
type Room struct {
	ID        string
	CreatedAt time.Time
	Members   []Participant
}
