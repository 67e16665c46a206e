// Package transcript owns a session's ordered turn history and produces bounded
// context windows from it. History is not safe for concurrent use; callers hold the
// owning session's lock.
package transcript

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// Outcome describes what Append did with a turn.
type Outcome int

const (
	// Interim means the turn replaced its channel's pending interim slot.
	Interim Outcome = iota
	// Committed means the turn was appended to the permanent history.
	Committed
	// Discarded means the turn was a blank final and was dropped.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Interim:
		return "interim"
	case Committed:
		return "committed"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// History is the append-only turn log of one session plus one pending interim
// slot per speaker channel.
type History struct {
	turns   []types.Turn
	pending map[string]types.Turn
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{
		turns:   make([]types.Turn, 0, 32),
		pending: make(map[string]types.Turn),
	}
}

// Append applies turn. Interim turns replace the pending slot of their channel. A final
// turn clears that slot and is committed, unless its text is blank, in which case the
// slot is still cleared and the turn is discarded.
func (h *History) Append(turn types.Turn) Outcome {
	key := turn.ChannelKey()
	if !turn.IsFinal {
		h.pending[key] = turn
		return Interim
	}
	delete(h.pending, key)
	text := normalizeSpace(turn.Text)
	if text == "" {
		return Discarded
	}
	turn.Text = text
	h.turns = append(h.turns, turn)
	return Committed
}

// Len returns the number of committed turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Last returns the newest committed turn.
func (h *History) Last() (types.Turn, bool) {
	if len(h.turns) == 0 {
		return types.Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// Full returns a copy of every committed turn in commit order.
func (h *History) Full() []types.Turn {
	out := make([]types.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Pending returns the pending interim turns ordered by channel.
func (h *History) Pending() []types.Turn {
	keys := make([]string, 0, len(h.pending))
	for k := range h.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Turn, 0, len(keys))
	for _, k := range keys {
		out = append(out, h.pending[k])
	}
	return out
}

// PendingCount returns the number of occupied interim slots.
func (h *History) PendingCount() int {
	return len(h.pending)
}

// Window returns the most recent committed turns, oldest first, holding at most
// maxTurns turns and maxTokens estimated tokens. The newest turn is always included;
// if it alone exceeds maxTokens its text is truncated to fit. Non-positive limits
// are treated as unbounded.
func (h *History) Window(maxTurns, maxTokens int) []types.Turn {
	return Window(h.turns, maxTurns, maxTokens)
}

// Window applies the windowing rule of History.Window to an arbitrary turn slice.
func Window(turns []types.Turn, maxTurns, maxTokens int) []types.Turn {
	if len(turns) == 0 {
		return nil
	}
	if maxTurns <= 0 {
		maxTurns = len(turns)
	}

	newest := turns[len(turns)-1]
	used := EstimateTokens(newest.Text)
	if maxTokens > 0 && used > maxTokens {
		newest.Text = TruncateToTokens(newest.Text, maxTokens)
		return []types.Turn{newest}
	}

	start := len(turns) - 1
	for i := len(turns) - 2; i >= 0; i-- {
		if len(turns)-i > maxTurns {
			break
		}
		cost := EstimateTokens(turns[i].Text)
		if maxTokens > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}

	out := make([]types.Turn, len(turns)-start)
	copy(out, turns[start:])
	out[len(out)-1] = newest
	return out
}

// turnOverheadTokens accounts for speaker labels and separators.
const turnOverheadTokens = 4

// EstimateTokens approximates the token cost of one turn: a quarter token per rune,
// rounded up, plus a fixed per-turn overhead.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text)+3)/4 + turnOverheadTokens
}

// TruncateToTokens shortens text so EstimateTokens(result) <= maxTokens, keeping the
// leading runes. It always returns at least an empty string.
func TruncateToTokens(text string, maxTokens int) string {
	budget := (maxTokens - turnOverheadTokens) * 4
	if budget <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= budget {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:budget]))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
