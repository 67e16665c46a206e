// Package objective tracks which checklist objectives have keyword evidence in a
// conversation.
package objective

import (
	"sort"
	"time"

	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Tracker evaluates objective completion. It holds no mutable state.
type Tracker struct {
	objectives []types.Objective
	order      map[string]int
}

// NewTracker returns a tracker over pb's objectives.
func NewTracker(pb *playbook.Playbook) *Tracker {
	if pb == nil {
		pb = playbook.Default()
	}
	objs := pb.Objectives()
	order := make(map[string]int, len(objs))
	for i, o := range objs {
		order[o.ID] = i
	}
	return &Tracker{objectives: objs, order: order}
}

// Evaluate scans the entire history for keyword evidence of the active stage's
// objectives. Completions in prior are kept unchanged; a newly satisfied objective is
// stamped with the timestamp of the first turn that mentions one of its keywords.
// Completed is ordered by completion time, then declaration order. Remaining holds
// the active stage's incomplete objectives ordered by priority, then declaration order.
func (t *Tracker) Evaluate(history []types.Turn, active types.Stage, prior []types.ObjectiveStatus) types.ObjectiveSnapshot {
	done := make(map[string]types.ObjectiveStatus, len(prior))
	for _, p := range prior {
		if p.Completed() {
			done[p.ID] = p
		}
	}

	var normalized []string
	var remaining []types.ObjectiveStatus
	for _, obj := range t.objectives {
		if obj.Stage != active {
			continue
		}
		if _, ok := done[obj.ID]; ok {
			continue
		}
		if normalized == nil {
			normalized = make([]string, len(history))
			for i, turn := range history {
				normalized[i] = playbook.NormalizeText(turn.Text)
			}
		}
		if at, ok := firstMention(history, normalized, obj.Keywords); ok {
			st := status(obj)
			st.CompletedAt = &at
			done[obj.ID] = st
			continue
		}
		remaining = append(remaining, status(obj))
	}

	completed := make([]types.ObjectiveStatus, 0, len(done))
	for _, st := range done {
		completed = append(completed, st)
	}
	sort.SliceStable(completed, func(i, j int) bool {
		a, b := completed[i], completed[j]
		if !a.CompletedAt.Equal(*b.CompletedAt) {
			return a.CompletedAt.Before(*b.CompletedAt)
		}
		return t.rank(a.ID) < t.rank(b.ID)
	})
	sort.SliceStable(remaining, func(i, j int) bool {
		a, b := remaining[i], remaining[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		return t.rank(a.ID) < t.rank(b.ID)
	})
	return types.ObjectiveSnapshot{Completed: completed, Remaining: remaining}
}

func (t *Tracker) rank(id string) int {
	if i, ok := t.order[id]; ok {
		return i
	}
	return len(t.order)
}

func firstMention(history []types.Turn, normalized []string, keywords []string) (time.Time, bool) {
	for i, text := range normalized {
		for _, kw := range keywords {
			if playbook.ContainsKeyword(text, kw) {
				return history[i].Timestamp, true
			}
		}
	}
	return time.Time{}, false
}

func status(obj types.Objective) types.ObjectiveStatus {
	return types.ObjectiveStatus{
		ID:          obj.ID,
		Description: obj.Description,
		Stage:       obj.Stage,
		Priority:    obj.Priority,
	}
}
