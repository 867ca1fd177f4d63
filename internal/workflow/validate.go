package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidWorkflow tags every validation failure.
var ErrInvalidWorkflow = errors.New("invalid workflow")

var knownEvents = map[string]bool{
	"push":              true,
	"pull_request":      true,
	"workflow_dispatch": true,
	"schedule":          true,
}

var knownConditions = map[string]bool{
	"":          true,
	"always()":  true,
	"success()": true,
	"failure()": true,
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidWorkflow, fmt.Sprintf(format, args...))
}

// Validate checks that the definition is complete enough to schedule:
// recognized triggers, at least one job, well-formed matrices, service port
// mappings, and steps that are either a command or an action but not both.
func (w *Workflow) Validate() error {
	if len(w.On.Events) == 0 {
		return invalid("no trigger events")
	}
	for _, event := range w.On.Events {
		if !knownEvents[event] {
			return invalid("unknown trigger event %q", event)
		}
	}
	if len(w.Jobs) == 0 {
		return invalid("no jobs")
	}
	for _, name := range w.JobNames() {
		if err := w.Jobs[name].validate(); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
	}
	return nil
}

func (j *Job) validate() error {
	if j.RunsOn == "" {
		return invalid("runs-on is required")
	}
	if j.Strategy != nil {
		if len(j.Strategy.Matrix) == 0 {
			return invalid("strategy with empty matrix")
		}
		for axis, values := range j.Strategy.Matrix {
			if len(values) == 0 {
				return invalid("matrix axis %q has no values", axis)
			}
			seen := make(map[string]bool, len(values))
			for _, v := range values {
				if seen[v] {
					return invalid("matrix axis %q repeats value %q", axis, v)
				}
				seen[v] = true
			}
		}
	}
	for name, svc := range j.Services {
		if svc.Image == "" {
			return invalid("service %q has no image", name)
		}
		for _, port := range svc.Ports {
			if err := validatePort(port); err != nil {
				return invalid("service %q: %s", name, err)
			}
		}
	}
	if len(j.Steps) == 0 {
		return invalid("no steps")
	}
	for i, step := range j.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Label(), err)
		}
	}
	return nil
}

func (s Step) validate() error {
	if s.Run == "" && s.Uses == "" {
		return invalid("step needs run or uses")
	}
	if s.Run != "" && s.Uses != "" {
		return invalid("step has both run and uses")
	}
	if !knownConditions[s.If] {
		return invalid("unsupported condition %q", s.If)
	}
	if s.Uses == "" && len(s.With) > 0 {
		return invalid("with requires uses")
	}
	if v, ok := s.With["fail_ci_if_error"]; ok {
		if _, err := strconv.ParseBool(v); err != nil {
			return invalid("fail_ci_if_error must be a boolean, got %q", v)
		}
	}
	return nil
}

func validatePort(mapping string) error {
	parts := strings.Split(mapping, ":")
	if len(parts) != 2 {
		return fmt.Errorf("port mapping %q is not host:container", mapping)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("port mapping %q has invalid port %q", mapping, p)
		}
	}
	return nil
}
