package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
)

// SessionsHandler serves GET /v1/sessions/{id}: the live snapshot of an active or
// recently ended session.
type SessionsHandler struct {
	Registry *session.Registry
}

func (h SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		apierror.Write(w, reqID, core.NewInvalidRequestError("session id is required"))
		return
	}
	snap, err := h.Registry.Snapshot(id)
	if err != nil {
		apierror.Write(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
