package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
name: tests

on: [ push, pull_request ]

jobs:
  tests:
    runs-on: ubuntu-latest
    strategy:
      matrix:
        python-version: [ 3.6, 3.7, 3.8, 3.9 ]
    services:
      redis:
        image: redis
        ports:
          - 6379:6379
        entrypoint: redis-server
    steps:
      - uses: actions/checkout@v2
      - name: Set up Python ${{ matrix.python-version }}
        uses: actions/setup-python@v2
        with:
          python-version: ${{ matrix.python-version }}
      - name: Install
        run: |
          pip install -e .
          pip install -r test-requirements.txt
      - name: Test
        run: |
          pytest tests --junitxml=reports/junit-${{ matrix.python-version }}.xml --cov=./connectome --cov-report=xml --cov-branch
      - name: Upload test results
        if: always()
        uses: actions/upload-artifact@v2
        with:
          name: pytest-results-${{ matrix.python-version }}
          path: reports/junit-${{ matrix.python-version }}.xml
      - name: Upload coverage
        uses: codecov/codecov-action@v1
        with:
          fail_ci_if_error: true
          verbose: "true"
`

func parseFixture(t *testing.T) *Workflow {
	t.Helper()
	wf, err := Parse([]byte(fixture))
	require.NoError(t, err)
	return wf
}

func TestParse_Fixture(t *testing.T) {
	wf := parseFixture(t)

	assert.Equal(t, "tests", wf.Name)
	assert.Equal(t, []string{"push", "pull_request"}, wf.On.Events)
	require.Contains(t, wf.Jobs, "tests")

	job := wf.Jobs["tests"]
	assert.Equal(t, "ubuntu-latest", job.RunsOn)
	require.NotNil(t, job.Strategy)
	assert.Equal(t, AxisValues{"3.6", "3.7", "3.8", "3.9"}, job.Strategy.Matrix["python-version"],
		"version numbers must keep their literal spelling")

	redis := job.Services["redis"]
	assert.Equal(t, "redis", redis.Image)
	assert.Equal(t, []string{"6379:6379"}, redis.Ports)
	assert.Equal(t, "redis-server", redis.Entrypoint)

	require.Len(t, job.Steps, 6)
	assert.True(t, job.Steps[4].Always())
	assert.False(t, job.Steps[3].Always())
	assert.Equal(t, "true", job.Steps[5].With["fail_ci_if_error"])
}

func TestParse_TriggerShapes(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want []string
	}{
		{"scalar", "on: push\njobs: {j: {runs-on: x, steps: [{run: echo ok}]}}", []string{"push"}},
		{"sequence", "on: [push, pull_request]\njobs: {j: {runs-on: x, steps: [{run: echo ok}]}}", []string{"push", "pull_request"}},
		{"mapping", "on:\n  push:\n    branches: [main]\n  pull_request: {}\njobs: {j: {runs-on: x, steps: [{run: echo ok}]}}", []string{"push", "pull_request"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			assert.Equal(t, tc.want, wf.On.Events)
		})
	}
}

func TestValidate_Fixture(t *testing.T) {
	require.NoError(t, parseFixture(t).Validate())
}

func TestValidate_Rejections(t *testing.T) {
	step := Step{Run: "true"}
	base := func() *Workflow {
		return &Workflow{
			On:   Triggers{Events: []string{"push"}},
			Jobs: map[string]*Job{"j": {RunsOn: "x", Steps: []Step{step}}},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Workflow)
	}{
		{"no triggers", func(w *Workflow) { w.On.Events = nil }},
		{"unknown trigger", func(w *Workflow) { w.On.Events = []string{"cron"} }},
		{"no jobs", func(w *Workflow) { w.Jobs = nil }},
		{"no runs-on", func(w *Workflow) { w.Jobs["j"].RunsOn = "" }},
		{"no steps", func(w *Workflow) { w.Jobs["j"].Steps = nil }},
		{"empty matrix", func(w *Workflow) { w.Jobs["j"].Strategy = &Strategy{} }},
		{"empty axis", func(w *Workflow) {
			w.Jobs["j"].Strategy = &Strategy{Matrix: map[string]AxisValues{"v": {}}}
		}},
		{"duplicate axis value", func(w *Workflow) {
			w.Jobs["j"].Strategy = &Strategy{Matrix: map[string]AxisValues{"v": {"1", "1"}}}
		}},
		{"service without image", func(w *Workflow) {
			w.Jobs["j"].Services = map[string]Service{"redis": {}}
		}},
		{"bad port mapping", func(w *Workflow) {
			w.Jobs["j"].Services = map[string]Service{"redis": {Image: "redis", Ports: []string{"6379"}}}
		}},
		{"step with run and uses", func(w *Workflow) {
			w.Jobs["j"].Steps = []Step{{Run: "true", Uses: "actions/checkout@v2"}}
		}},
		{"step with neither", func(w *Workflow) { w.Jobs["j"].Steps = []Step{{Name: "empty"}} }},
		{"unsupported condition", func(w *Workflow) {
			w.Jobs["j"].Steps = []Step{{Run: "true", If: "cancelled()"}}
		}},
		{"with without uses", func(w *Workflow) {
			w.Jobs["j"].Steps = []Step{{Run: "true", With: map[string]string{"a": "b"}}}
		}},
		{"non-boolean fail_ci_if_error", func(w *Workflow) {
			w.Jobs["j"].Steps = []Step{{Uses: "codecov/codecov-action@v1", With: map[string]string{"fail_ci_if_error": "yes please"}}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := base()
			tc.mutate(w)
			assert.ErrorIs(t, w.Validate(), ErrInvalidWorkflow)
		})
	}
}

func TestExpand_OneInstancePerMatrixValue(t *testing.T) {
	wf := parseFixture(t)
	instances := wf.Jobs["tests"].Expand()
	require.Len(t, instances, 4)

	var suffixes []string
	for _, inst := range instances {
		suffixes = append(suffixes, inst.Suffix)
	}
	assert.Equal(t, []string{"3.6", "3.7", "3.8", "3.9"}, suffixes)
}

func TestExpand_CartesianProduct(t *testing.T) {
	job := &Job{Strategy: &Strategy{Matrix: map[string]AxisValues{
		"os":      {"linux", "mac"},
		"version": {"1", "2"},
	}}}
	instances := job.Expand()
	require.Len(t, instances, 4)
	assert.Equal(t, "linux-1", instances[0].Suffix)
	assert.Equal(t, map[string]string{"os": "mac", "version": "2"}, instances[3].Vars)
}

func TestExpand_NoMatrix(t *testing.T) {
	instances := (&Job{}).Expand()
	require.Len(t, instances, 1)
	assert.Empty(t, instances[0].Suffix)
}

func TestInterpolate(t *testing.T) {
	inst := Instance{Vars: map[string]string{"python-version": "3.9"}}

	assert.Equal(t, "reports/junit-3.9.xml",
		inst.Interpolate("reports/junit-${{ matrix.python-version }}.xml"))
	assert.Equal(t, "${{ matrix.unknown }}",
		inst.Interpolate("${{ matrix.unknown }}"), "unknown references stay verbatim")
	assert.Equal(t, map[string]string{"v": "3.9"},
		inst.InterpolateMap(map[string]string{"v": "${{matrix.python-version}}"}))
}
