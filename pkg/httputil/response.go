package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/meet-service/pkg/errs"
	"github.com/cwrk-planet/meet-service/pkg/logger"
)

type envelope map[string]any

// JSON кодирует v до записи заголовков: ошибка кодирования даёт 500, а не обрезанное тело.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if v == nil {
		w.WriteHeader(status)
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode json response failed", slog.Any("err", err), slog.Int("status", status))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"internal error"}}` + "\n"))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{"data": data})
}

// Error пишет {"error":{message, meta?, request_id?}}. 5xx логируются как error.
func Error(ctx context.Context, w http.ResponseWriter, status int, msg string, meta map[string]any) {
	l := logger.FromCtx(ctx)
	if status >= http.StatusInternalServerError {
		l.Error("request failed", "status", status, "msg", msg, "meta", meta)
	} else {
		l.Debug("request rejected", "status", status, "msg", msg)
	}
	writeError(ctx, w, status, msg, meta)
}

// Fail выбирает статус по err. Текст err попадает в ответ только для 4xx.
func Fail(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	status := errs.ToHTTP(err)
	if status >= http.StatusInternalServerError {
		logger.FromCtx(ctx).Error(msg, "status", status, "err", err)
		writeError(ctx, w, status, msg, nil)
		return
	}
	logger.FromCtx(ctx).Debug(msg, "status", status, "err", err)
	writeError(ctx, w, status, msg, map[string]any{"reason": err.Error()})
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string, meta map[string]any) {
	e := envelope{"message": msg}
	if len(meta) > 0 {
		e["meta"] = meta
	}
	if id, ok := FromContext(ctx); ok {
		e["request_id"] = id
	}
	JSON(w, status, envelope{"error": e})
}
