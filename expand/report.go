package expand

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Report records the sites rewritten in one run.
type Report struct {
	Generated string       `yaml:"generated"`
	Directive string       `yaml:"directive"`
	Files     []FileReport `yaml:"files"`
}

// FileReport lists the rewritten sites of one changed file.
type FileReport struct {
	Path  string `yaml:"path"`
	Sites []Site `yaml:"sites"`
}

// NewReport starts an empty report for a directive.
func NewReport(directive string) *Report {
	return &Report{
		Generated: time.Now().UTC().Format(time.RFC3339),
		Directive: directive,
		Files:     []FileReport{},
	}
}

// Add records the sites of every changed result.
func (r *Report) Add(results ...*Result) {
	for _, res := range results {
		if res == nil || res.Err != nil || len(res.Sites) == 0 {
			continue
		}
		r.Files = append(r.Files, FileReport{Path: res.Filename, Sites: res.Sites})
	}
}

// Count returns the number of recorded sites.
func (r *Report) Count() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Sites)
	}
	return n
}

// Marshal encodes the report as YAML.
func (r *Report) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("report: encoder close: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes the report to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}
