package errs

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/meet-service/internal/domain"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

func ToHTTP(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, domain.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotInRoom):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, domain.ErrTranslationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
