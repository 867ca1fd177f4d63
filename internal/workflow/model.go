// Package workflow models, validates and executes declarative CI workflow
// definitions: event triggers, matrix jobs, service containers and gated
// sequential steps.
package workflow

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Workflow is a parsed workflow definition.
type Workflow struct {
	Name string          `yaml:"name"`
	On   Triggers        `yaml:"on"`
	Jobs map[string]*Job `yaml:"jobs"`
}

// JobNames returns the job identifiers in deterministic order.
func (w *Workflow) JobNames() []string {
	names := make([]string, 0, len(w.Jobs))
	for name := range w.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Triggers is the set of repository events that schedule the workflow.
//
// The YAML surface accepts a scalar (`on: push`), a sequence
// (`on: [push, pull_request]`) or a mapping with per-event filters; only the
// event names are retained.
type Triggers struct {
	Events []string
}

func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var event string
		if err := node.Decode(&event); err != nil {
			return err
		}
		t.Events = []string{event}
		return nil
	case yaml.SequenceNode:
		return node.Decode(&t.Events)
	case yaml.MappingNode:
		// Mapping keys are the event names; filters are ignored.
		for i := 0; i < len(node.Content); i += 2 {
			t.Events = append(t.Events, node.Content[i].Value)
		}
		return nil
	default:
		return fmt.Errorf("workflow: cannot decode trigger node of kind %d", node.Kind)
	}
}

// Job is one workflow job: a runner label, an optional build matrix, service
// containers and an ordered list of steps.
type Job struct {
	RunsOn   string             `yaml:"runs-on"`
	Strategy *Strategy          `yaml:"strategy"`
	Services map[string]Service `yaml:"services"`
	Steps    []Step             `yaml:"steps"`
}

// Strategy holds the job's build matrix.
type Strategy struct {
	Matrix map[string]AxisValues `yaml:"matrix"`
}

// AxisValues is one matrix axis. Scalar values keep their literal YAML
// spelling: a version written 3.10 must not collapse to the float 3.1.
type AxisValues []string

func (v *AxisValues) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("workflow: matrix axis must be a sequence")
	}
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("workflow: matrix axis values must be scalars")
		}
		*v = append(*v, item.Value)
	}
	return nil
}

// StringMap is a mapping whose scalar values keep their literal YAML
// spelling, so `fail_ci_if_error: true` decodes as "true" rather than
// failing against a string target.
type StringMap map[string]string

func (m *StringMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow: expected a mapping, got node kind %d", node.Kind)
	}
	out := make(StringMap, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("workflow: value of %q must be a scalar", key.Value)
		}
		out[key.Value] = value.Value
	}
	*m = out
	return nil
}

// Service is an auxiliary container started for the duration of a job.
type Service struct {
	Image      string   `yaml:"image"`
	Ports      []string `yaml:"ports"`
	Entrypoint string   `yaml:"entrypoint"`
}

// Step is a single job step. Exactly one of Run and Uses is set: Run executes
// a shell command, Uses invokes a named action with the With parameters.
type Step struct {
	Name string    `yaml:"name"`
	If   string    `yaml:"if"`
	Uses string    `yaml:"uses"`
	With StringMap `yaml:"with"`
	Run  string    `yaml:"run"`
	Env  StringMap `yaml:"env"`
}

// Always reports whether the step runs regardless of earlier step failures.
func (s Step) Always() bool { return s.If == "always()" }

// Label is the step's display name, falling back to its command or action.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	return s.Run
}
