package keyservice

import (
	"errors"
	"net/http"

	"github.com/mozilla-services/keyretrieval/storage"
)

var (
	ErrUnauthorized         = errors.New("authentication required")
	ErrForbidden            = errors.New("forbidden")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrLengthRequired       = errors.New("length required")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrBadRequest           = errors.New("bad request")

	// Storage outcomes, surfaced as-is.
	ErrNotFound    = storage.ErrNotFound
	ErrUnavailable = storage.ErrUnavailable
)

// StatusCode maps an error returned by a Service method to the HTTP status
// code of the response. Unknown errors are server-side failures.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrLengthRequired):
		return http.StatusLengthRequired
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
