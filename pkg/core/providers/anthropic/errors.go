package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vango-go/callcoach/pkg/core"
)

// anthropicError represents an error response from Anthropic.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseError converts an HTTP error response into a provider error. The Anthropic
// error type, when present, is carried as the error code.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var anthErr anthropicError
	if err := json.Unmarshal(body, &anthErr); err != nil || anthErr.Error.Message == "" {
		e := core.NewProviderError(p.Name(), fmt.Errorf("http %d: %s", resp.StatusCode, string(body)))
		e.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		return e
	}

	e := core.NewProviderError(p.Name(), errors.New(anthErr.Error.Message))
	e.Code = anthErr.Error.Type
	return e
}
