package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(t.TempDir(), zaptest.NewLogger(t))
}

func singleJob(steps ...Step) *Workflow {
	return &Workflow{
		On:   Triggers{Events: []string{"push"}},
		Jobs: map[string]*Job{"tests": {RunsOn: "local", Steps: steps}},
	}
}

func TestRunner_PassingJob(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(
		Step{Name: "first", Run: "echo one"},
		Step{Name: "second", Run: "echo two"},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, summary.Failed)
	require.Len(t, summary.Instances, 1)

	inst := summary.Instances[0]
	assert.NotEmpty(t, inst.RunID)
	require.Len(t, inst.Steps, 2)
	for _, sr := range inst.Steps {
		assert.Equal(t, StepPassed, sr.Status)
	}
}

func TestRunner_WarnsAboutDeclaredServices(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRunner(t.TempDir(), zap.New(core))

	wf := singleJob(Step{Name: "only", Run: "echo ok"})
	wf.Jobs["tests"].Services = map[string]Service{
		"redis": {Image: "redis", Ports: []string{"6379:6379"}, Entrypoint: "redis-server"},
	}

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, summary.Failed)

	entries := logs.FilterMessage("service container not provisioned, expecting a reachable instance").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "redis", fields["service"])
	assert.Equal(t, "redis", fields["image"])
	assert.Equal(t, []interface{}{"6379:6379"}, fields["ports"])
}

func TestRunner_FailureGatesLaterSteps(t *testing.T) {
	r := newTestRunner(t)
	marker := filepath.Join(r.WorkDir, "ran")
	wf := singleJob(
		Step{Name: "boom", Run: "exit 3"},
		Step{Name: "gated", Run: "touch " + marker},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, summary.Failed)

	steps := summary.Instances[0].Steps
	assert.Equal(t, StepFailed, steps[0].Status)
	assert.Equal(t, 3, steps[0].ExitCode)
	assert.Equal(t, StepSkipped, steps[1].Status)
	assert.NoFileExists(t, marker)
}

func TestRunner_AlwaysStepRunsAfterFailure(t *testing.T) {
	r := newTestRunner(t)
	marker := filepath.Join(r.WorkDir, "uploaded")
	wf := singleJob(
		Step{Name: "boom", Run: "exit 1"},
		Step{Name: "upload", If: "always()", Run: "touch " + marker},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, summary.Failed)

	steps := summary.Instances[0].Steps
	assert.Equal(t, StepPassed, steps[1].Status)
	assert.FileExists(t, marker)
}

func TestRunner_MatrixInstancesAreIsolated(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(Step{
		Name: "emit",
		Run:  "echo version=$MATRIX_PYTHON_VERSION > out-${{ matrix.python-version }}.txt",
	})
	wf.Jobs["tests"].Strategy = &Strategy{Matrix: map[string]AxisValues{
		"python-version": {"3.6", "3.7", "3.8", "3.9"},
	}}

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, summary.Failed)
	require.Len(t, summary.Instances, 4)

	for _, version := range []string{"3.6", "3.7", "3.8", "3.9"} {
		data, err := os.ReadFile(filepath.Join(r.WorkDir, "out-"+version+".txt"))
		require.NoError(t, err)
		assert.Equal(t, "version="+version+"\n", string(data))
		assert.FileExists(t, filepath.Join(r.ReportDir, "junit-"+version+".xml"))
	}
}

func TestRunner_WritesReportPerInstance(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(
		Step{Name: "ok", Run: "echo fine"},
		Step{Name: "boom", Run: "exit 1"},
		Step{Name: "gated", Run: "echo never"},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)

	path := summary.Instances[0].ReportPath
	assert.Equal(t, filepath.Join(r.ReportDir, "junit-tests.xml"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `failures="1"`)
	assert.Contains(t, text, `skipped="1"`)
	assert.Contains(t, text, `name="boom"`)
}

func TestRunner_UploadArtifactCollectsFiles(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(
		Step{Name: "produce", Run: "mkdir -p reports && echo data > reports/junit-3.9.xml"},
		Step{
			Name: "upload",
			If:   "always()",
			Uses: "actions/upload-artifact@v2",
			With: StringMap{"name": "pytest-results-3.9", "path": "reports/junit-3.9.xml"},
		},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, summary.Failed)
	assert.FileExists(t, filepath.Join(r.ArtifactDir, "pytest-results-3.9", "junit-3.9.xml"))
}

func TestRunner_UploadArtifactRunsDespiteFailure(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(
		Step{Name: "produce", Run: "mkdir -p reports && echo data > reports/junit.xml"},
		Step{Name: "boom", Run: "exit 1"},
		Step{
			Name: "upload",
			If:   "always()",
			Uses: "actions/upload-artifact@v2",
			With: StringMap{"name": "results", "path": "reports/junit.xml"},
		},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, summary.Failed)
	assert.Equal(t, StepPassed, summary.Instances[0].Steps[2].Status)
	assert.FileExists(t, filepath.Join(r.ArtifactDir, "results", "junit.xml"))
}

func TestRunner_CoverageUploadFailureFailsJob(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(Step{
		Name: "coverage",
		Uses: "codecov/codecov-action@v1",
		With: StringMap{"file": "coverage.xml", "fail_ci_if_error": "true"},
	})

	// No coverage.xml exists, so the upload fails.
	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, summary.Failed)
}

func TestRunner_CoverageUploadFailureTolerated(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(
		Step{
			Name: "coverage",
			Uses: "codecov/codecov-action@v1",
			With: StringMap{"file": "coverage.xml", "fail_ci_if_error": "false"},
		},
		Step{Name: "after", Run: "echo still running"},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, summary.Failed, "fail_ci_if_error: false must not fail the job")
	assert.Equal(t, StepFailed, summary.Instances[0].Steps[0].Status)
	assert.Equal(t, StepPassed, summary.Instances[0].Steps[1].Status)
}

func TestRunner_ProvisioningActionsAreNoOps(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(
		Step{Uses: "actions/checkout@v2"},
		Step{Name: "setup", Uses: "actions/setup-python@v2", With: StringMap{"python-version": "3.9"}},
		Step{Name: "real", Run: "echo ok"},
	)

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.False(t, summary.Failed)
}

func TestRunner_UnsupportedActionFails(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(Step{Uses: "someone/some-action@v9"})

	summary, err := r.Run(context.Background(), wf)
	require.NoError(t, err)
	assert.True(t, summary.Failed)
}

func TestRunner_InvalidWorkflowRejected(t *testing.T) {
	r := newTestRunner(t)
	_, err := r.Run(context.Background(), &Workflow{})
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestRunner_Cancellation(t *testing.T) {
	r := newTestRunner(t)
	wf := singleJob(Step{Name: "sleep", Run: "sleep 30"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, wf)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must kill the process tree")
}
