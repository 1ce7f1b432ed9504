package httputil

import (
	"context"
	"net/http"

	"github.com/cwrk-planet/meet-service/pkg/logger"

	"github.com/google/uuid"
)

type ctxKey struct{}

const (
	HeaderRequestID = "X-Request-ID"

	maxRequestIDLen = 128
)

// MiddlewareRequestID берёт X-Request-ID клиента, если он приличный, иначе
// генерирует новый; id уходит в ответ, в ctx и во все логи запроса.
func MiddlewareRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)

		ctx := context.WithValue(r.Context(), ctxKey{}, reqID)
		ctx = logger.With(ctx, logger.ReqID(reqID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok
}

// только печатный ASCII: id попадает в заголовки и логи как есть
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
