package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/review"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
)

const (
	defaultCallListLimit = 50
	maxCallListLimit     = 500
)

// CallsHandler serves the persisted records of finished calls. A nil Reviewer
// analyzes with the static objective review only.
type CallsHandler struct {
	Store    record.Store
	Reviewer *review.Reviewer
	Logger   *zap.Logger
}

type callList struct {
	Calls []types.CallSummary `json:"calls"`
}

// List handles GET /v1/calls?limit=N.
func (h CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	limit := defaultCallListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			apierror.Write(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "limit must be a positive integer", Code: "invalid_limit"})
			return
		}
		limit = min(n, maxCallListLimit)
	}
	calls, err := h.Store.List(r.Context(), limit)
	if err != nil {
		h.logError("list calls", reqID, err)
		apierror.Write(w, reqID, err)
		return
	}
	if calls == nil {
		calls = []types.CallSummary{}
	}
	writeJSON(w, http.StatusOK, callList{Calls: calls})
}

// Get handles GET /v1/calls/{id}.
func (h CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	rec, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logError("get call", reqID, err)
		apierror.Write(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /v1/calls/{id}.
func (h CallsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if err := h.Store.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.logError("delete call", reqID, err)
		apierror.Write(w, reqID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Analyze handles POST /v1/calls/{id}/analyze. It stores the analysis on the record
// and returns it.
func (h CallsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	reviewer := h.Reviewer
	if reviewer == nil {
		reviewer = review.New(review.Dependencies{Store: h.Store, Logger: h.Logger})
	}
	analysis, err := reviewer.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logError("analyze call", reqID, err)
		apierror.Write(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h CallsHandler) logError(op, reqID string, err error) {
	if h.Logger == nil || core.IsNotFound(err) {
		return
	}
	h.Logger.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
}
