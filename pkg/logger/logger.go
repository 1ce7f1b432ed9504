package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// def читается из каждой горутины соединения, Init может вызываться повторно (тесты).
var def atomic.Pointer[slog.Logger]

// Init собирает логгер по cfg, делает его slog.Default и возвращает.
func Init(cfg Config) *slog.Logger {
	cfg = cfg.withDefaults()

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	l := slog.New(h.WithAttrs(commonAttr(cfg)))
	slog.SetDefault(l)
	def.Store(l)
	return l
}

func L() *slog.Logger {
	if l := def.Load(); l != nil {
		return l
	}
	return Init(Config{})
}

func (c Config) withDefaults() Config {
	if c.Env == "" {
		c.Env = DetectEnv()
	}
	if c.Service == "" {
		c.Service = "meet-service"
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	c.InstanceID = ensureInstanceID(c.InstanceID)
	if c.Backend == "" {
		// text для разработки, zap JSON везде, где логи собираются
		c.Backend = BackendZap
		if c.Env == EnvDev {
			c.Backend = BackendStd
		}
	}
	return c
}
