// Package record persists finished calls: the call summary, the committed transcript,
// every guidance shown to the salesperson, and an optional post-call analysis.
package record

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// Record is one finished call.
type Record struct {
	Summary types.CallSummary `json:"summary"`
	Turns   []types.Turn      `json:"turns"`
	// Guidance holds every merged guidance in emission order.
	Guidance []*types.Guidance `json:"guidance"`
	Analysis *types.Analysis   `json:"analysis,omitempty"`
}

// ID returns the call's session id.
func (r Record) ID() string {
	return r.Summary.SessionID
}

// Store persists call records. Implementations are safe for concurrent use.
type Store interface {
	// Save inserts or replaces rec.
	Save(ctx context.Context, rec Record) error
	// Get returns the record with the given id, or a not found error.
	Get(ctx context.Context, id string) (*Record, error)
	// List returns summaries newest first. A non-positive limit returns every record.
	List(ctx context.Context, limit int) ([]types.CallSummary, error)
	// Delete removes a record, or returns a not found error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open returns the store described by url:
//
//	memory                      in-process map
//	file:///var/lib/callcoach   one JSON file per call
//	postgres://user@host/db     postgres via pgx
//	sqlite:///path/calls.db     sqlite
//
// SQL stores apply pending migrations before returning.
func Open(ctx context.Context, url string) (Store, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "" || url == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(url, "file://"):
		return NewFileStore(strings.TrimPrefix(url, "file://"))
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenSQL(ctx, DialectPostgres, url)
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQL(ctx, DialectSQLite, strings.TrimPrefix(url, "sqlite://"))
	default:
		return nil, fmt.Errorf("record store: unsupported url %q", url)
	}
}

func sortNewestFirst(out []types.CallSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
}

func applyLimit(out []types.CallSummary, limit int) []types.CallSummary {
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}
