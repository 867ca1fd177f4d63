package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a workflow definition.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("workflow: parsing definition: %w", err)
	}
	return &wf, nil
}

// ParseFile decodes a workflow definition from disk.
func ParseFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: reading %s: %w", path, err)
	}
	return Parse(data)
}
