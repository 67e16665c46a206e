package handlers

import (
	"net/http"

	"github.com/vango-go/callcoach/pkg/coach/playbook"
)

// ToolkitHandler serves GET /v1/toolkit: the playbook's backup scripts grouped by
// category, for reps to browse when no guidance fits.
type ToolkitHandler struct {
	Playbook *playbook.Playbook
}

func (h ToolkitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	categories := h.Playbook.Toolkit()
	if categories == nil {
		categories = []playbook.ToolkitCategory{}
	}
	writeJSON(w, http.StatusOK, struct {
		Categories []playbook.ToolkitCategory `json:"categories"`
	}{Categories: categories})
}
