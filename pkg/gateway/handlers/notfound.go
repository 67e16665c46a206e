package handlers

import (
	"net/http"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apierror.WriteStatus(w, requestIDFromContext(r.Context()), &core.Error{
		Type:    core.ErrNotFound,
		Message: "not found",
	}, http.StatusNotFound)
}
