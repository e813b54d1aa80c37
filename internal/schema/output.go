package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed docpilot.yaml
var docpilotYAML []byte

// Default returns the DocPilot declaration: patients, doctors, appointments
// and prescriptions.
func Default() *Declaration {
	d, err := Parse(docpilotYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded declaration is invalid: %v", err))
	}
	return d
}

// DefaultYAML returns the raw embedded DocPilot declaration.
func DefaultYAML() []byte {
	out := make([]byte, len(docpilotYAML))
	copy(out, docpilotYAML)
	return out
}

// LoadYAML reads and validates a declaration file. An empty path loads the
// embedded DocPilot declaration.
func LoadYAML(path string) (*Declaration, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading declaration: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML declaration, checks it against the declaration JSON
// Schema and then against the cross-reference rules in Validate.
func Parse(data []byte) (*Declaration, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing declaration: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	d := &Declaration{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parsing declaration: %w", err)
	}
	d.normalize()

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// WriteYAML writes the declaration to a YAML file at the given path.
func (d *Declaration) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling declaration: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// ToYAML returns the declaration as a YAML byte slice.
func (d *Declaration) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// AttributeCount returns the number of attributes declared across all
// collections.
func (d *Declaration) AttributeCount() int {
	n := 0
	for _, c := range d.Collections {
		n += len(c.Attributes)
	}
	return n
}

// Summary returns a human-readable summary of the declaration.
func (d *Declaration) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s (%s)\n", d.Database.ID, d.Database.Name)
	fmt.Fprintf(&b, "Collections: %d, attributes: %d, relationships: %d\n",
		len(d.Collections), d.AttributeCount(), len(d.Relationships))
	for _, c := range d.Collections {
		fmt.Fprintf(&b, "  %-16s %2d attributes", c.ID, len(c.Attributes))
		if rels := d.RelationshipsFrom(c.ID); len(rels) > 0 {
			keys := make([]string, len(rels))
			for i, r := range rels {
				keys[i] = r.Key + "→" + r.RelatedCollection
			}
			fmt.Fprintf(&b, ", links: %s", strings.Join(keys, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
