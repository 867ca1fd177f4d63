package workflow

import (
	"regexp"
	"sort"
	"strings"
)

// Instance is one scheduled job instance: a concrete assignment of matrix
// variables. Jobs without a matrix expand to a single instance with no
// variables.
type Instance struct {
	// Suffix distinguishes the instance, e.g. "3.9" or "3.9-ubuntu". Empty
	// for matrix-less jobs.
	Suffix string

	// Vars maps axis names to the instance's values.
	Vars map[string]string
}

// Expand produces one Instance per combination of matrix values. Axes are
// combined in lexicographic axis-name order, values in declaration order, so
// the schedule is deterministic.
func (j *Job) Expand() []Instance {
	if j.Strategy == nil || len(j.Strategy.Matrix) == 0 {
		return []Instance{{Vars: map[string]string{}}}
	}

	axes := make([]string, 0, len(j.Strategy.Matrix))
	for axis := range j.Strategy.Matrix {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	instances := []Instance{{Vars: map[string]string{}}}
	for _, axis := range axes {
		var next []Instance
		for _, inst := range instances {
			for _, value := range j.Strategy.Matrix[axis] {
				vars := make(map[string]string, len(inst.Vars)+1)
				for k, v := range inst.Vars {
					vars[k] = v
				}
				vars[axis] = value
				suffix := inst.Suffix
				if suffix == "" {
					suffix = value
				} else {
					suffix += "-" + value
				}
				next = append(next, Instance{Suffix: suffix, Vars: vars})
			}
		}
		instances = next
	}
	return instances
}

var matrixRef = regexp.MustCompile(`\$\{\{\s*matrix\.([A-Za-z0-9_-]+)\s*\}\}`)

// Interpolate substitutes ${{ matrix.<axis> }} references with the
// instance's values. Unknown references are left untouched so they surface
// verbatim in step output.
func (in Instance) Interpolate(s string) string {
	return matrixRef.ReplaceAllStringFunc(s, func(ref string) string {
		axis := matrixRef.FindStringSubmatch(ref)[1]
		if v, ok := in.Vars[axis]; ok {
			return v
		}
		return ref
	})
}

// InterpolateMap applies Interpolate to every value of m.
func (in Instance) InterpolateMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = in.Interpolate(v)
	}
	return out
}

// envVars renders the matrix assignment as environment variables: axis
// "python-version" becomes MATRIX_PYTHON_VERSION.
func (in Instance) envVars() map[string]string {
	out := make(map[string]string, len(in.Vars))
	for axis, value := range in.Vars {
		name := "MATRIX_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(axis))
		out[name] = value
	}
	return out
}
