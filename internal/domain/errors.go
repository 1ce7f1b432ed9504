package domain

import "errors"

var (
	ErrRoomNotFound           = errors.New("room not found")
	ErrNotInRoom              = errors.New("connection not in the room")
	ErrTranslationUnavailable = errors.New("translation unavailable")
	ErrInvalidMessage         = errors.New("invalid message")
)
