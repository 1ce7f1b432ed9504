package logger

import (
	"io"
	"log/slog"
)

type Backend string

const (
	BackendStd Backend = "std" // slog text (dev) / JSON
	BackendZap Backend = "zap" // zap JSON через slog-zap
)

// Config описывает логгер одного процесса meet-service.
type Config struct {
	Service    string // default: meet-service
	Version    string
	InstanceID string // default: host-<8 hex>

	Env     Env
	Backend Backend // пусто: std в dev, zap в stage/prod
	Level   slog.Level
	Debug   bool // поднимает уровень до debug, если Level не задан
	Output  io.Writer

	// Статические атрибуты поверх service/env/instance_id (например, region).
	Attrs []slog.Attr

	// Семплирование debug/info в zap за секунду; warn+ не семплируется.
	SampleInitial    int
	SampleThereafter int

	AddSource bool
}

func (c Config) level() slog.Level {
	if c.Debug && c.Level == slog.LevelInfo {
		return slog.LevelDebug
	}
	return c.Level
}
