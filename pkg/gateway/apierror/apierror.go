package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/callcoach/pkg/core"
)

// Envelope is the JSON body of every error response.
type Envelope struct {
	Error     *core.Error `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

// FromError maps err to its canonical form and HTTP status.
func FromError(err error) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{Type: core.ErrInternal, Message: "request timeout"}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{Type: core.ErrInternal, Message: "request cancelled", Code: "cancelled"}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		return &out, statusFromType(coreErr.Type)
	}

	// Unknown errors: do not leak details.
	return &core.Error{Type: core.ErrInternal, Message: "internal error"}, http.StatusInternalServerError
}

// Write encodes err as a JSON error response.
func Write(w http.ResponseWriter, requestID string, err error) {
	ce, status := FromError(err)
	WriteStatus(w, requestID, ce, status)
}

// WriteStatus encodes ce with an explicit status.
func WriteStatus(w http.ResponseWriter, requestID string, ce *core.Error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: ce, RequestID: requestID})
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrSessionEnded:
		return http.StatusConflict
	case core.ErrOverloaded:
		return http.StatusServiceUnavailable
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrProvider, core.ErrProviderMalformed, core.ErrTranscriptionConnection:
		return http.StatusBadGateway
	case core.ErrProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
