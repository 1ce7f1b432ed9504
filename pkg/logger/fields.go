package logger

import (
	"context"
	"log/slog"
)

// Ключи атрибутов, общие для всего сервиса.
const (
	KeyRoom  = "room"
	KeyConn  = "conn"
	KeyReqID = "req_id"
)

func Room(id string) slog.Attr { return slog.String(KeyRoom, id) }
func Conn(id string) slog.Attr { return slog.String(KeyConn, id) }
func ReqID(id string) slog.Attr { return slog.String(KeyReqID, id) }

// WithConn привязывает id WebSocket-соединения ко всем логам из ctx.
func WithConn(ctx context.Context, connID string) context.Context {
	return With(ctx, Conn(connID))
}

// WithRoom привязывает комнату. Повторный вызов заменяет предыдущее значение.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return With(ctx, Room(roomID))
}
