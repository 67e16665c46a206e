package core

import (
	"context"
	"sort"
	"sync"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// Reasoner is the interface that all guidance providers must implement.
type Reasoner interface {
	// Name returns the provider identifier (e.g., "gemini", "anthropic").
	Name() string

	// Reason returns the provider's raw guidance payload for req. The payload is
	// untrusted and is strictly decoded by the caller. Implementations must honor
	// ctx cancellation.
	Reason(ctx context.Context, req *types.GuidanceRequest) ([]byte, error)
}

// Analyzer is implemented by reasoners that can review a finished call. Like Reason,
// Analyze returns an untrusted payload that the caller strictly decodes.
type Analyzer interface {
	Analyze(ctx context.Context, req *types.AnalysisRequest) ([]byte, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc struct {
	ID string
	Fn func(ctx context.Context, req *types.GuidanceRequest) ([]byte, error)
}

// Name returns f.ID.
func (f ReasonerFunc) Name() string { return f.ID }

// Reason calls f.Fn.
func (f ReasonerFunc) Reason(ctx context.Context, req *types.GuidanceRequest) ([]byte, error) {
	return f.Fn(ctx, req)
}

// ReasonerRegistry manages available reasoners.
type ReasonerRegistry interface {
	// Register adds a reasoner to the registry, replacing any with the same name.
	Register(r Reasoner)

	// Get returns a reasoner by name.
	Get(name string) (Reasoner, bool)

	// List returns all registered reasoner names in sorted order.
	List() []string
}

type defaultRegistry struct {
	mu        sync.RWMutex
	reasoners map[string]Reasoner
}

// NewReasonerRegistry creates a new reasoner registry.
func NewReasonerRegistry() ReasonerRegistry {
	return &defaultRegistry{
		reasoners: make(map[string]Reasoner),
	}
}

func (r *defaultRegistry) Register(reasoner Reasoner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasoners[reasoner.Name()] = reasoner
}

func (r *defaultRegistry) Get(name string) (Reasoner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.reasoners[name]
	return p, ok
}

func (r *defaultRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.reasoners))
	for name := range r.reasoners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
