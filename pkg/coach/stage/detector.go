// Package stage classifies the active phase of a sales conversation from keyword
// evidence in the most recent turns.
package stage

import (
	"fmt"
	"strings"

	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Defaults for the detector's scoring.
const (
	DefaultWindowTurns      = 3
	DefaultKeywordWeight    = 10
	DefaultProgressionBonus = 5
	// saturationHits is the per-turn keyword hit count treated as the
	// maximum attainable evidence when normalizing confidence.
	saturationHits = 3
)

// Options tunes the detector.
type Options struct {
	WindowTurns   int
	KeywordWeight int
	// ProgressionBonus of zero selects the default; a negative value disables it.
	ProgressionBonus int
}

func (o Options) withDefaults() Options {
	if o.WindowTurns <= 0 {
		o.WindowTurns = DefaultWindowTurns
	}
	if o.KeywordWeight <= 0 {
		o.KeywordWeight = DefaultKeywordWeight
	}
	if o.ProgressionBonus < 0 {
		o.ProgressionBonus = 0
	} else if o.ProgressionBonus == 0 {
		o.ProgressionBonus = DefaultProgressionBonus
	}
	return o
}

// Result is one classification.
type Result struct {
	Stage      types.Stage
	Confidence float64
	Rationale  string
	Scores     map[types.Stage]int
}

// Detector classifies stages. It holds no mutable state and is safe for concurrent use.
type Detector struct {
	pb   *playbook.Playbook
	opts Options
}

// NewDetector returns a detector over pb's stage keywords.
func NewDetector(pb *playbook.Playbook, opts Options) *Detector {
	if pb == nil {
		pb = playbook.Default()
	}
	return &Detector{pb: pb, opts: opts.withDefaults()}
}

// Classify scores every stage over the last WindowTurns turns of window. Each whole-word
// keyword occurrence adds KeywordWeight. The stage following previous, and objection
// unconditionally, receive ProgressionBonus. The highest total wins; ties go to previous,
// then to canonical order. A window without keyword evidence keeps previous at zero
// confidence, and an empty window yields opening at zero confidence.
func (d *Detector) Classify(window []types.Turn, previous types.Stage) Result {
	if len(window) == 0 {
		return Result{Stage: types.StageOpening, Rationale: "no conversation yet"}
	}
	if !previous.Valid() {
		previous = types.StageOpening
	}

	recent := window
	if len(recent) > d.opts.WindowTurns {
		recent = recent[len(recent)-d.opts.WindowTurns:]
	}
	texts := make([]string, len(recent))
	for i, t := range recent {
		texts[i] = playbook.NormalizeText(t.Text)
	}

	scores := make(map[types.Stage]int, len(types.Stages))
	hits := make(map[types.Stage][]string, len(types.Stages))
	evidence := false
	for _, st := range types.Stages {
		for _, kw := range d.pb.Keywords(st) {
			n := 0
			for _, text := range texts {
				n += playbook.CountKeyword(text, kw)
			}
			if n > 0 {
				scores[st] += n * d.opts.KeywordWeight
				hits[st] = append(hits[st], kw)
				evidence = true
			}
		}
	}
	if !evidence {
		return Result{
			Stage:     previous,
			Rationale: "no stage keywords in recent turns; holding " + string(previous),
			Scores:    scores,
		}
	}

	bonused := map[types.Stage]bool{types.StageObjection: true}
	if next, ok := previous.Next(); ok {
		bonused[next] = true
	}
	for st := range bonused {
		scores[st] += d.opts.ProgressionBonus
	}

	best := previous
	for _, st := range types.Stages {
		if scores[st] > scores[best] {
			best = st
		}
	}

	maxScore := d.opts.KeywordWeight*saturationHits*len(recent) + d.opts.ProgressionBonus
	conf := float64(scores[best]) / float64(maxScore)
	if conf > 1 {
		conf = 1
	}

	return Result{
		Stage:      best,
		Confidence: conf,
		Rationale:  rationale(best, hits[best], bonused[best], d.opts),
		Scores:     scores,
	}
}

func rationale(st types.Stage, hits []string, bonus bool, opts Options) string {
	var b strings.Builder
	b.WriteString(string(st))
	if len(hits) > 0 {
		b.WriteString(": matched " + strings.Join(hits, ", "))
	} else {
		b.WriteString(": no direct keyword match")
	}
	if bonus {
		fmt.Fprintf(&b, "; progression bonus +%d", opts.ProgressionBonus)
	}
	return b.String()
}
