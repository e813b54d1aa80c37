// Package report renders provisioning progress and results: a styled
// console reporter, a structured-log reporter, and JSON/text summaries.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docpilot/docpilot/internal/provision"
)

// Summary is the JSON document written by `setup --report`.
type Summary struct {
	Version     string            `json:"version"`
	GeneratedAt time.Time         `json:"generated_at"`
	Backend     string            `json:"backend"`
	DryRun      bool              `json:"dry_run"`
	Success     bool              `json:"success"`
	Result      *provision.Result `json:"result,omitempty"`
	Plan        *provision.Plan   `json:"plan,omitempty"`
}

// NewSummary builds a summary for a run or a dry-run plan. Either may be nil.
func NewSummary(backend string, res *provision.Result, plan *provision.Plan, runErr error) *Summary {
	return &Summary{
		Version:     "1",
		GeneratedAt: time.Now().UTC(),
		Backend:     backend,
		DryRun:      plan != nil,
		Success:     runErr == nil,
		Result:      res,
		Plan:        plan,
	}
}

// WriteJSON writes the summary as indented JSON, creating parent directories.
func WriteJSON(s *Summary, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a summary written by WriteJSON.
func ReadJSON(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	s := &Summary{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return s, nil
}

// FormatText renders a run result as plain text.
func FormatText(res *provision.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Database %s: %s\n", res.DatabaseID, createdOrExisting(res.DatabaseCreated))
	for _, c := range res.Collections {
		fmt.Fprintf(&b, "  %-16s %s, %d attributes created, %d existing",
			c.ID, createdOrExisting(c.Created), len(c.AttributesCreated), len(c.AttributesExisting))
		if len(c.AttributesSkipped) > 0 {
			fmt.Fprintf(&b, ", %d skipped", len(c.AttributesSkipped))
		}
		b.WriteString("\n")
	}

	created := 0
	for _, r := range res.Relationships {
		if r.Created {
			created++
		}
	}
	fmt.Fprintf(&b, "Relationships: %d created, %d existing\n", created, len(res.Relationships)-created)

	if len(res.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "Failed: %s\n", res.Error)
	}
	fmt.Fprintf(&b, "Done in %s\n", res.Duration.Round(time.Millisecond))
	return b.String()
}

// FormatPlan renders a dry-run plan as plain text.
func FormatPlan(pl *provision.Plan) string {
	var b strings.Builder

	if pl.CreateDatabase {
		fmt.Fprintf(&b, "+ database %s\n", pl.DatabaseID)
	}
	for _, c := range pl.Collections {
		if c.Create {
			fmt.Fprintf(&b, "+ collection %s\n", c.ID)
		}
		for _, a := range c.MissingAttributes {
			fmt.Fprintf(&b, "+ attribute %s.%s\n", c.ID, a)
		}
		for _, a := range c.Skipped {
			fmt.Fprintf(&b, "! attribute %s.%s (unsupported kind)\n", c.ID, a)
		}
	}
	for _, r := range pl.Relationships {
		if r.Create {
			fmt.Fprintf(&b, "+ relationship %s.%s -> %s\n", r.Collection, r.Key, r.RelatedCollection)
		}
	}
	for _, w := range pl.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}

	if n := pl.Changes(); n == 0 {
		b.WriteString("Nothing to do; the database matches the declaration.\n")
	} else {
		fmt.Fprintf(&b, "%d changes planned.\n", n)
	}
	return b.String()
}

func createdOrExisting(created bool) string {
	if created {
		return "created"
	}
	return "existing"
}
