// ABOUTME: Maps pipeline errors onto HTTP status codes and client-facing messages
// ABOUTME: Keeps store and auth internals out of responses

package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/codec"
	"github.com/2389/beacon-gateway/internal/message"
	"github.com/2389/beacon-gateway/internal/store"
)

// badBody marks a request body that could not be decoded.
func badBody(err error) error {
	return fmt.Errorf("%w: %v", message.ErrMalformedPayload, err)
}

// httpStatus returns the status code and public message for err.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, ""
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, "username already taken"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "credential store unavailable"
	case errors.Is(err, codec.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, auth.ErrMissingAgentID), errors.Is(err, message.ErrMalformedPayload):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
