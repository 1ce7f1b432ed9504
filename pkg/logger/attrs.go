package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ensureInstanceID: host-<8 hex>, чтобы различать реплики за одним балансером.
func ensureInstanceID(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}

	hn, err := os.Hostname()
	if err != nil || hn == "" {
		hn = "meet"
	}
	return hn + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func commonAttr(cfg Config) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return append(attrs, cfg.Attrs...)
}
