package workflow

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"connectome/internal/report"
)

// StepStatus is the outcome of a step within a job instance.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepFailed
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StepResult records one step of an executed job instance.
type StepResult struct {
	Label    string
	Status   StepStatus
	ExitCode int
	Output   string
	Reason   string
}

// InstanceResult records one executed job instance.
type InstanceResult struct {
	Job        string
	Suffix     string
	RunID      string
	Steps      []StepResult
	Failed     bool
	ReportPath string
}

// Name is the instance's display name, e.g. "tests-3.9".
func (r InstanceResult) Name() string {
	if r.Suffix == "" {
		return r.Job
	}
	return r.Job + "-" + r.Suffix
}

// RunSummary aggregates every instance of a workflow run.
type RunSummary struct {
	Instances []InstanceResult
	Failed    bool
}

// Runner executes a workflow locally: it expands matrices, runs instances
// concurrently, executes run-steps through the shell and interprets the
// small set of actions the workflow surface uses. Each step's success gates
// the next, except steps conditioned on always().
type Runner struct {
	// WorkDir is the directory run-steps execute in.
	WorkDir string

	// ReportDir receives the per-instance JUnit reports.
	ReportDir string

	// ArtifactDir receives collected artifacts.
	ArtifactDir string

	// Env is added to every step's environment.
	Env map[string]string

	Logger *zap.Logger
}

func NewRunner(workDir string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		WorkDir:     workDir,
		ReportDir:   filepath.Join(workDir, "reports"),
		ArtifactDir: filepath.Join(workDir, "artifacts"),
		Logger:      logger,
	}
}

// Run validates the workflow and executes every job instance. Instances run
// concurrently and are mutually isolated; a failing instance marks the
// summary failed without cancelling its siblings.
func (r *Runner) Run(ctx context.Context, wf *Workflow) (*RunSummary, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	type slot struct {
		job  string
		inst Instance
	}
	var slots []slot
	for _, name := range wf.JobNames() {
		for _, inst := range wf.Jobs[name].Expand() {
			slots = append(slots, slot{job: name, inst: inst})
		}
	}

	results := make([]InstanceResult, len(slots))
	g, ctx := errgroup.WithContext(ctx)
	for i, s := range slots {
		i, s := i, s
		g.Go(func() error {
			res, err := r.runInstance(ctx, s.job, wf.Jobs[s.job], s.inst)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &RunSummary{Instances: results}
	for _, res := range results {
		if res.Failed {
			summary.Failed = true
		}
	}
	return summary, nil
}

func (r *Runner) runInstance(ctx context.Context, jobName string, job *Job, inst Instance) (InstanceResult, error) {
	res := InstanceResult{Job: jobName, Suffix: inst.Suffix, RunID: uuid.NewString()}
	logger := r.Logger.With(
		zap.String("job", res.Name()),
		zap.String("run_id", res.RunID),
	)
	logger.Info("job instance started", zap.Int("steps", len(job.Steps)))

	// Service containers are declared, not provisioned. Make the gap visible
	// so an operator knows steps must reach an already-running instance.
	for _, name := range sortedKeys(job.Services) {
		svc := job.Services[name]
		logger.Warn("service container not provisioned, expecting a reachable instance",
			zap.String("service", name),
			zap.String("image", svc.Image),
			zap.Strings("ports", svc.Ports))
	}

	for _, step := range job.Steps {
		if res.Failed && !step.Always() {
			logger.Info("step skipped", zap.String("step", step.Label()))
			res.Steps = append(res.Steps, StepResult{
				Label:  step.Label(),
				Status: StepSkipped,
				Reason: "earlier step failed",
			})
			continue
		}
		sr := r.runStep(ctx, step, inst, logger)
		if ctx.Err() != nil {
			return InstanceResult{}, fmt.Errorf("workflow: instance %s: %w", res.Name(), ctx.Err())
		}
		res.Steps = append(res.Steps, sr)
		if sr.Status == StepFailed && r.gates(step) {
			res.Failed = true
		}
	}

	suffix := inst.Suffix
	if suffix == "" {
		suffix = jobName
	}
	res.ReportPath = filepath.Join(r.ReportDir, "junit-"+suffix+".xml")
	if err := r.writeReport(res); err != nil {
		return InstanceResult{}, err
	}
	logger.Info("job instance finished", zap.Bool("failed", res.Failed))
	return res, nil
}

// gates reports whether a failure of the step fails the instance. The
// coverage-upload action opts out via fail_ci_if_error: false.
func (r *Runner) gates(step Step) bool {
	if actionName(step.Uses) != "codecov/codecov-action" {
		return true
	}
	v, ok := step.With["fail_ci_if_error"]
	if !ok {
		return false
	}
	failCI, err := strconv.ParseBool(v)
	return err != nil || failCI
}

func (r *Runner) runStep(ctx context.Context, step Step, inst Instance, logger *zap.Logger) StepResult {
	label := inst.Interpolate(step.Label())
	if step.Run != "" {
		out, code, err := r.runShell(ctx, inst.Interpolate(step.Run), r.stepEnv(step, inst))
		if err != nil {
			logger.Error("step error", zap.String("step", label), zap.Error(err))
			return StepResult{Label: label, Status: StepFailed, ExitCode: -1, Output: out, Reason: err.Error()}
		}
		if code != 0 {
			logger.Warn("step failed", zap.String("step", label), zap.Int("exit_code", code))
			return StepResult{Label: label, Status: StepFailed, ExitCode: code, Output: out,
				Reason: fmt.Sprintf("exit status %d", code)}
		}
		logger.Info("step passed", zap.String("step", label))
		return StepResult{Label: label, Status: StepPassed, Output: out}
	}

	out, err := r.runAction(step, inst)
	if err != nil {
		logger.Warn("action failed", zap.String("step", label), zap.Error(err))
		return StepResult{Label: label, Status: StepFailed, ExitCode: -1, Output: out, Reason: err.Error()}
	}
	logger.Info("action finished", zap.String("step", label))
	return StepResult{Label: label, Status: StepPassed, Output: out}
}

// stepEnv builds the step environment: the host environment, the runner's
// extra variables, the matrix assignment as MATRIX_* variables, and the
// step's own env block, later entries overriding earlier ones.
func (r *Runner) stepEnv(step Step, inst Instance) []string {
	merged := map[string]string{}
	for k, v := range r.Env {
		merged[k] = v
	}
	for k, v := range inst.envVars() {
		merged[k] = v
	}
	for k, v := range inst.InterpolateMap(step.Env) {
		merged[k] = v
	}

	env := os.Environ()
	for _, k := range sortedKeys(merged) {
		env = append(env, k+"="+merged[k])
	}
	return env
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runShell executes a command through the shell. The command runs in its own
// process group so cancellation kills the whole tree.
func (r *Runner) runShell(ctx context.Context, command string, env []string) (string, int, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = r.WorkDir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return "", -1, fmt.Errorf("workflow: starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return output.String(), -1, fmt.Errorf("workflow: step cancelled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return output.String(), 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return output.String(), exitErr.ExitCode(), nil
		}
		return output.String(), -1, fmt.Errorf("workflow: running command: %w", err)
	}
}

func (r *Runner) writeReport(res InstanceResult) error {
	suite := report.TestSuite{Name: res.Name()}
	for _, sr := range res.Steps {
		c := report.TestCase{Name: sr.Label, ClassName: res.Name()}
		switch sr.Status {
		case StepFailed:
			c.Failure = &report.Failure{Message: sr.Reason, Output: sr.Output}
		case StepSkipped:
			c.Skipped = &report.Skipped{Message: sr.Reason}
		}
		suite.Cases = append(suite.Cases, c)
	}
	doc := report.TestSuites{Suites: []report.TestSuite{suite}}
	return doc.WriteFile(res.ReportPath)
}
