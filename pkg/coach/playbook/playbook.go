// Package playbook holds the stage keyword catalog, objective checklist, fallback
// guidance templates, and backup toolkit scripts that drive coaching.
package playbook

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/callcoach/pkg/core/types"
)

//go:embed default.yaml
var defaultYAML []byte

// Playbook is an immutable coaching catalog. It is safe for concurrent use.
type Playbook struct {
	stages     map[types.Stage]*StageSpec
	objectives []types.Objective
	toolkit    []ToolkitCategory
}

// StageSpec describes one stage.
type StageSpec struct {
	Keywords   []string          `yaml:"keywords"`
	Objectives []types.Objective `yaml:"objectives"`
	Fallback   Template          `yaml:"fallback"`
}

// Template is the static guidance used when the reasoning provider is unavailable.
type Template struct {
	Focus         types.Focus         `yaml:"focus" json:"focus"`
	Direction     string              `yaml:"direction" json:"direction"`
	KeyQuestions  []types.KeyQuestion `yaml:"key_questions" json:"key_questions"`
	TalkingPoints []string            `yaml:"talking_points" json:"talking_points"`
}

// ToolkitCategory groups ready-made scripts.
type ToolkitCategory struct {
	Category string   `yaml:"category" json:"category"`
	Title    string   `yaml:"title" json:"title"`
	Scripts  []Script `yaml:"scripts" json:"scripts"`
}

// Script is one backup script.
type Script struct {
	Name      string `yaml:"name" json:"name"`
	Text      string `yaml:"text" json:"text"`
	WhenToUse string `yaml:"when_to_use" json:"when_to_use"`
}

type document struct {
	Stages  map[string]*StageSpec `yaml:"stages"`
	Toolkit []ToolkitCategory     `yaml:"toolkit"`
}

var defaultOnce = sync.OnceValues(func() (*Playbook, error) {
	return Parse(defaultYAML)
})

// Default returns the embedded playbook.
func Default() *Playbook {
	pb, err := defaultOnce()
	if err != nil {
		panic(fmt.Sprintf("playbook: embedded default is invalid: %v", err))
	}
	return pb
}

// Load reads a playbook from a YAML file. An empty path returns the embedded default.
func Load(path string) (*Playbook, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	pb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("playbook %s: %w", path, err)
	}
	return pb, nil
}

// Parse decodes and validates a YAML playbook.
func Parse(data []byte) (*Playbook, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode playbook: %w", err)
	}

	pb := &Playbook{
		stages:  make(map[types.Stage]*StageSpec, len(types.Stages)),
		toolkit: doc.Toolkit,
	}
	for name, spec := range doc.Stages {
		st, err := types.ParseStage(name)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			return nil, fmt.Errorf("stage %s: empty definition", st)
		}
		pb.stages[st] = spec
	}

	seen := make(map[string]types.Stage)
	for _, st := range types.Stages {
		spec, ok := pb.stages[st]
		if !ok {
			return nil, fmt.Errorf("stage %s: missing", st)
		}
		if len(spec.Keywords) == 0 {
			return nil, fmt.Errorf("stage %s: at least one keyword is required", st)
		}
		spec.Keywords = normalizeKeywords(spec.Keywords)
		for i := range spec.Objectives {
			obj := &spec.Objectives[i]
			obj.ID = strings.TrimSpace(obj.ID)
			if obj.ID == "" {
				return nil, fmt.Errorf("stage %s: objective %d has no id", st, i)
			}
			if prev, dup := seen[obj.ID]; dup {
				return nil, fmt.Errorf("objective %q declared in both %s and %s", obj.ID, prev, st)
			}
			seen[obj.ID] = st
			p, err := types.ParsePriority(string(obj.Priority))
			if err != nil {
				return nil, fmt.Errorf("objective %q: %w", obj.ID, err)
			}
			obj.Priority = p
			obj.Stage = st
			obj.Keywords = normalizeKeywords(obj.Keywords)
			if len(obj.Keywords) == 0 {
				return nil, fmt.Errorf("objective %q: at least one keyword is required", obj.ID)
			}
			pb.objectives = append(pb.objectives, *obj)
		}
		if err := validateTemplate(spec.Fallback); err != nil {
			return nil, fmt.Errorf("stage %s fallback: %w", st, err)
		}
	}
	return pb, nil
}

func validateTemplate(t Template) error {
	switch {
	case strings.TrimSpace(t.Focus.What) == "":
		return fmt.Errorf("focus.what is required")
	case !t.Focus.Urgency.Valid():
		return fmt.Errorf("unknown urgency %q", t.Focus.Urgency)
	case strings.TrimSpace(t.Direction) == "":
		return fmt.Errorf("direction is required")
	case len(t.KeyQuestions) == 0:
		return fmt.Errorf("at least one key question is required")
	}
	for i, q := range t.KeyQuestions {
		if strings.TrimSpace(q.Primary) == "" {
			return fmt.Errorf("key_questions[%d].primary is required", i)
		}
	}
	return nil
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = NormalizeText(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// Keywords returns the stage's detection keywords.
func (p *Playbook) Keywords(st types.Stage) []string {
	if spec, ok := p.stages[st]; ok {
		return spec.Keywords
	}
	return nil
}

// Objectives returns every objective in declaration order (canonical stage order,
// then file order within a stage).
func (p *Playbook) Objectives() []types.Objective {
	return p.objectives
}

// HasPrompts reports whether the stage's fallback carries key questions.
func (p *Playbook) HasPrompts(st types.Stage) bool {
	spec, ok := p.stages[st]
	return ok && len(spec.Fallback.KeyQuestions) > 0
}

// Fallback returns the stage's fallback template.
func (p *Playbook) Fallback(st types.Stage) Template {
	spec, ok := p.stages[st]
	if !ok {
		spec = p.stages[types.StageOpening]
	}
	return spec.Fallback
}

// Toolkit returns the backup script catalog.
func (p *Playbook) Toolkit() []ToolkitCategory {
	return p.toolkit
}
