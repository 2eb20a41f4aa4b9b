package keyservice

import (
	"fmt"
	"io"
	"strings"
)

const (
	// MaxPayloadSize is the largest accepted upload, in bytes.
	MaxPayloadSize = 8 * 1024

	// MaxUserIDLength matches the width of the relational keydata.userid column.
	MaxUserIDLength = 64

	// HeartbeatPath is served by the health check, so no user may be named
	// after it.
	HeartbeatPath = "__heartbeat__"
)

// UploadRequest describes an inbound write. ContentLength is negative when
// the client did not declare one, as with net/http.Request.
type UploadRequest struct {
	Body          io.Reader
	ContentType   string
	ContentLength int64
}

// ValidateUpload checks media type first, then presence of a length, then
// size. A wrongly typed request is rejected whatever its size.
func ValidateUpload(contentType string, contentLength int64) error {
	if contentType != "" && !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/") {
		return fmt.Errorf("%q: %w", contentType, ErrUnsupportedMediaType)
	}
	if contentLength < 0 {
		return ErrLengthRequired
	}
	if contentLength > MaxPayloadSize {
		return fmt.Errorf("%d bytes exceeds %d: %w", contentLength, MaxPayloadSize, ErrPayloadTooLarge)
	}
	return nil
}

// ValidateUserID rejects user IDs that no backend can store.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("empty user: %w", ErrBadRequest)
	}
	if userID == HeartbeatPath {
		return fmt.Errorf("%q: reserved name: %w", userID, ErrBadRequest)
	}
	if len(userID) > MaxUserIDLength {
		return fmt.Errorf("%.40q...: user longer than %d bytes: %w", userID, MaxUserIDLength, ErrBadRequest)
	}
	return nil
}
