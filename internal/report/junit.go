// Package report renders job results as JUnit XML, the interchange format CI
// platforms ingest for test result display.
package report

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// TestSuites is the root of a JUnit document.
type TestSuites struct {
	XMLName  xml.Name    `xml:"testsuites"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Suites   []TestSuite `xml:"testsuite"`
}

// TestSuite groups the cases of one job instance.
type TestSuite struct {
	Name     string     `xml:"name,attr"`
	Tests    int        `xml:"tests,attr"`
	Failures int        `xml:"failures,attr"`
	Skipped  int        `xml:"skipped,attr"`
	Cases    []TestCase `xml:"testcase"`
}

// TestCase records one executed step.
type TestCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	Failure   *Failure `xml:"failure,omitempty"`
	Skipped   *Skipped `xml:"skipped,omitempty"`
}

// Failure carries the failing step's message and captured output.
type Failure struct {
	Message string `xml:"message,attr"`
	Output  string `xml:",chardata"`
}

// Skipped marks a step that was gated off by an earlier failure.
type Skipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// Validate checks structural invariants before the document is written.
func (d *TestSuites) Validate() error {
	if d == nil {
		return errors.New("report: document is nil")
	}
	for i, s := range d.Suites {
		if s.Name == "" {
			return fmt.Errorf("report: suite %d has no name", i)
		}
		for j, c := range s.Cases {
			if c.Name == "" {
				return fmt.Errorf("report: suite %q case %d has no name", s.Name, j)
			}
			if c.Failure != nil && c.Skipped != nil {
				return fmt.Errorf("report: case %q is both failed and skipped", c.Name)
			}
		}
	}
	return nil
}

// Canonicalize sorts suites by name and recomputes every counter from the
// cases, so equal runs produce byte-identical documents. Case order inside a
// suite is execution order and is preserved.
func (d *TestSuites) Canonicalize() {
	if d == nil {
		return
	}
	sort.SliceStable(d.Suites, func(i, j int) bool {
		return d.Suites[i].Name < d.Suites[j].Name
	})

	d.Tests, d.Failures, d.Skipped = 0, 0, 0
	for i := range d.Suites {
		s := &d.Suites[i]
		s.Tests = len(s.Cases)
		s.Failures, s.Skipped = 0, 0
		for _, c := range s.Cases {
			if c.Failure != nil {
				s.Failures++
			}
			if c.Skipped != nil {
				s.Skipped++
			}
		}
		d.Tests += s.Tests
		d.Failures += s.Failures
		d.Skipped += s.Skipped
	}
}

// Encode returns the canonical XML bytes of the document.
func (d TestSuites) Encode() ([]byte, error) {
	doc := TestSuites{Suites: make([]TestSuite, len(d.Suites))}
	copy(doc.Suites, d.Suites)
	doc.Canonicalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: encoding: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// WriteFile writes the canonical document, creating parent directories and
// committing with a rename so readers never observe a partial report.
func (d TestSuites) WriteFile(path string) error {
	data, err := d.Encode()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("report: staging %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("report: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("report: writing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("report: committing %s: %w", path, err)
	}
	return nil
}
