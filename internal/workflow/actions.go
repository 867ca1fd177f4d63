package workflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// actionName strips the version pin: "actions/checkout@v2" -> "actions/checkout".
func actionName(uses string) string {
	name, _, _ := strings.Cut(uses, "@")
	return name
}

// runAction interprets the actions the workflow surface uses. Provisioning
// actions are no-ops locally; artifact actions collect files into the
// runner's artifact directory.
func (r *Runner) runAction(step Step, inst Instance) (string, error) {
	with := inst.InterpolateMap(step.With)
	switch actionName(step.Uses) {
	case "actions/checkout", "actions/setup-python", "actions/setup-go":
		// The local working tree is already checked out and provisioned.
		return "provisioned by runner", nil
	case "actions/upload-artifact":
		return r.uploadArtifact(with)
	case "codecov/codecov-action":
		return r.uploadCoverage(with)
	default:
		return "", fmt.Errorf("workflow: unsupported action %q", step.Uses)
	}
}

func (r *Runner) uploadArtifact(with map[string]string) (string, error) {
	path := with["path"]
	if path == "" {
		return "", fmt.Errorf("workflow: upload-artifact needs a path")
	}
	name := with["name"]
	if name == "" {
		name = "artifact"
	}
	copied, err := r.collect(path, filepath.Join(r.ArtifactDir, name))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("collected %d file(s) as %q", copied, name), nil
}

func (r *Runner) uploadCoverage(with map[string]string) (string, error) {
	file := with["file"]
	if file == "" {
		file = "coverage.xml"
	}
	copied, err := r.collect(file, filepath.Join(r.ArtifactDir, "coverage"))
	if err != nil {
		return "", fmt.Errorf("workflow: coverage upload: %w", err)
	}
	return fmt.Sprintf("uploaded %d coverage file(s)", copied), nil
}

// collect copies the files matching pattern (relative to the working
// directory) into dst, flattening to base names.
func (r *Runner) collect(pattern, dst string) (int, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(r.WorkDir, pattern)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("workflow: bad artifact pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("workflow: no files match %q", pattern)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("workflow: creating %s: %w", dst, err)
	}
	copied := 0
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return copied, err
		}
		if info.IsDir() {
			continue
		}
		if err := copyFile(m, filepath.Join(dst, filepath.Base(m))); err != nil {
			return copied, err
		}
		copied++
	}
	if copied == 0 {
		return 0, fmt.Errorf("workflow: no regular files match %q", pattern)
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
