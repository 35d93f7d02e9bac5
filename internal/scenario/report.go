package scenario

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

type Result struct {
	Name     string        `yaml:"name"`
	Status   Status        `yaml:"status"`
	Kind     string        `yaml:"kind,omitempty"`
	Message  string        `yaml:"message,omitempty"`
	Duration time.Duration `yaml:"duration"`
}

// Report is the outcome of one RunAll.
type Report struct {
	ID       string        `yaml:"id"`
	Started  time.Time     `yaml:"started"`
	Duration time.Duration `yaml:"duration"`
	Results  []Result      `yaml:"results"`
}

func (r *Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Passed reports whether every scenario passed.
func (r *Report) Passed() bool {
	return r.count(StatusPass) == len(r.Results)
}

// WriteText writes one line per scenario, then the details of every
// failure and a summary.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	for _, res := range r.Results {
		word := "ok"
		switch res.Status {
		case StatusFail:
			word = "FAIL"
		case StatusError:
			word = "ERROR"
		}
		fmt.Fprintf(&b, "%s ... %s\n", res.Name, word)
	}

	for _, res := range r.Results {
		if res.Status == StatusPass {
			continue
		}
		b.WriteString("\n" + strings.Repeat("=", 70) + "\n")
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(res.Status)), res.Name)
		b.WriteString(strings.Repeat("-", 70) + "\n")
		fmt.Fprintf(&b, "%s (%s)\n", res.Message, res.Kind)
	}

	b.WriteString("\n" + strings.Repeat("-", 70) + "\n")
	fmt.Fprintf(&b, "Ran %d scenarios in %.3fs\n\n", len(r.Results), r.Duration.Seconds())

	if r.Passed() {
		b.WriteString("OK\n")
	} else {
		var parts []string
		if n := r.count(StatusFail); n > 0 {
			parts = append(parts, fmt.Sprintf("failures=%d", n))
		}
		if n := r.count(StatusError); n > 0 {
			parts = append(parts, fmt.Sprintf("errors=%d", n))
		}
		fmt.Fprintf(&b, "FAILED (%s)\n", strings.Join(parts, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteYAML writes the report to path.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
