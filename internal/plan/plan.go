// Package plan loads project plans: the backlog a fleet runs, plus optional
// scripts for the simulated executor.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/armada/internal/agent"
	"github.com/ShayCichocki/armada/pkg/models"
)

// Format is a plan file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Plan is a project's backlog as written by its author.
type Plan struct {
	Project string          `json:"project" yaml:"project"`
	Stories []*models.Story `json:"stories" yaml:"stories"`
	// Simulate scripts the simulated executor per story ID.
	Simulate map[string]Simulation `json:"simulate,omitempty" yaml:"simulate,omitempty"`
}

// Simulation scripts one story for the simulated executor.
type Simulation struct {
	// Delay is a duration string such as "250ms".
	Delay    string          `json:"delay,omitempty" yaml:"delay,omitempty"`
	Messages []string        `json:"messages,omitempty" yaml:"messages,omitempty"`
	Outcomes []agent.Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// Load reads a plan file. Files ending in .json are JSON; anything else is YAML.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Project == "" {
		base := filepath.Base(path)
		p.Project = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// Parse decodes and validates a plan. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Plan, error) {
	var p Plan
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks what can be checked without partitioning the backlog.
// Dependency cycles and phase mismatches are reported when the fleet is created.
func (p *Plan) Validate() error {
	if len(p.Stories) == 0 {
		return fmt.Errorf("plan has no stories")
	}
	seen := make(map[string]bool, len(p.Stories))
	for i, s := range p.Stories {
		if s == nil {
			return fmt.Errorf("story #%d is empty", i+1)
		}
		if s.ID == "" {
			return fmt.Errorf("story #%d has no id", i+1)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate story id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Phase != "" && !s.Phase.Valid() {
			return fmt.Errorf("story %s has unknown phase %q", s.ID, s.Phase)
		}
		if s.Role != "" && !s.Role.Valid() {
			return fmt.Errorf("story %s has unknown role %q", s.ID, s.Role)
		}
	}
	for id, sim := range p.Simulate {
		if !seen[id] {
			return fmt.Errorf("simulate refers to unknown story %q", id)
		}
		if sim.Delay != "" {
			if _, err := time.ParseDuration(sim.Delay); err != nil {
				return fmt.Errorf("simulate %s: bad delay: %w", id, err)
			}
		}
	}
	return nil
}

// Backlog returns fresh copies of the plan's stories.
func (p *Plan) Backlog() []*models.Story {
	out := make([]*models.Story, len(p.Stories))
	for i, s := range p.Stories {
		c := s.Clone()
		c.Status = ""
		out[i] = c
	}
	return out
}

// Scripts converts the simulate section into executor scripts.
func (p *Plan) Scripts() map[string]agent.Script {
	scripts := make(map[string]agent.Script, len(p.Simulate))
	for id, sim := range p.Simulate {
		delay, _ := time.ParseDuration(sim.Delay)
		scripts[id] = agent.Script{
			Outcomes: sim.Outcomes,
			Delay:    delay,
			Messages: sim.Messages,
		}
	}
	return scripts
}

// Simulator returns a scripted executor for the plan.
func (p *Plan) Simulator() *agent.Scripted {
	return agent.NewScripted(p.Scripts())
}
