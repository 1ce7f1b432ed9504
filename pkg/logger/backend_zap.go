package logger

import (
	"log/slog"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newZapHandler: JSON через zap. Debug/info семплируются (relay и ws в
// больших комнатах пишут на каждое сообщение), warn и error пишутся всегда.
func newZapHandler(cfg Config) slog.Handler {
	lvl := cfg.level()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder
	if cfg.AddSource {
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	}
	enc := zapcore.NewJSONEncoder(encCfg)
	out := zapcore.Lock(zapcore.AddSync(cfg.Output))
	floor := toZapLevel(lvl)

	chatty := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= floor && l < zapcore.WarnLevel
	})
	important := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= floor && l >= zapcore.WarnLevel
	})

	initial, thereafter := cfg.SampleInitial, cfg.SampleThereafter
	if initial <= 0 {
		initial = 100
	}
	if thereafter <= 0 {
		thereafter = 10
	}
	core := zapcore.NewTee(
		zapcore.NewSamplerWithOptions(zapcore.NewCore(enc, out, chatty), time.Second, initial, thereafter),
		zapcore.NewCore(enc.Clone(), out, important),
	)

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return slogzap.Option{Level: lvl, Logger: zap.New(core, opts...)}.NewZapHandler()
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zapcore.DebugLevel
	case lvl <= slog.LevelInfo:
		return zapcore.InfoLevel
	case lvl <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
