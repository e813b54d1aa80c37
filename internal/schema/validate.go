package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed declaration.schema.json
var declarationSchemaJSON []byte

const declarationSchemaURL = "declaration.schema.json"

var compiledSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(declarationSchemaURL, bytes.NewReader(declarationSchemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile(declarationSchemaURL)
}

// ValidationError lists every problem found in a declaration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid declaration: %s", strings.Join(e.Problems, "; "))
}

// validateDocument checks the decoded YAML tree against the declaration
// JSON Schema.
func validateDocument(raw any) error {
	// Round-trip through JSON so the validator sees json.Number and
	// map[string]any only.
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("parsing declaration: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("parsing declaration: %w", err)
	}

	if err := compiledSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Problems: collectCauses(ve)}
		}
		return &ValidationError{Problems: []string{err.Error()}}
	}
	return nil
}

func collectCauses(ve *jsonschema.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectCauses(cause)...)
	}
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", loc, ve.Message))
	}
	return msgs
}

// Validate checks the cross-references the JSON Schema cannot express.
// Unsupported attribute kinds are not errors; see Warnings.
func (d *Declaration) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	keys := make(map[string]map[string]bool, len(d.Collections))
	for _, c := range d.Collections {
		if _, dup := keys[c.ID]; dup {
			add("collection %q declared more than once", c.ID)
			continue
		}
		seen := make(map[string]bool, len(c.Attributes))
		keys[c.ID] = seen
		for _, a := range c.Attributes {
			where := c.ID + "." + a.Name
			if seen[a.Name] {
				add("attribute %s declared more than once", where)
			}
			seen[a.Name] = true
			for _, p := range checkAttribute(a) {
				add("attribute %s: %s", where, p)
			}
		}
	}

	for i, r := range d.Relationships {
		where := fmt.Sprintf("relationship %d (%s.%s)", i, r.Collection, r.Key)
		attrs, ok := keys[r.Collection]
		if !ok {
			add("%s: collection %q is not declared", where, r.Collection)
		}
		if _, ok := keys[r.RelatedCollection]; !ok {
			add("%s: related collection %q is not declared", where, r.RelatedCollection)
		}
		if _, err := ParseCardinality(string(r.Type)); err != nil {
			add("%s: %v", where, err)
		}
		if _, err := ParseOnDelete(string(r.OnDelete)); err != nil {
			add("%s: %v", where, err)
		}
		if attrs != nil {
			if attrs[r.Key] {
				add("%s: key collides with an attribute or relationship of %s", where, r.Collection)
			}
			attrs[r.Key] = true
		}
		if r.TwoWay && r.TwoWayKey != "" {
			if related := keys[r.RelatedCollection]; related != nil {
				if related[r.TwoWayKey] {
					add("%s: two-way key %q collides with %s", where, r.TwoWayKey, r.RelatedCollection)
				}
				related[r.TwoWayKey] = true
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkAttribute(a Attribute) []string {
	var problems []string
	kind, supported := ParseKind(string(a.Kind))

	if a.Default != nil {
		if a.Required {
			problems = append(problems, "a required attribute cannot have a default")
		}
		if a.Array {
			problems = append(problems, "an array attribute cannot have a default")
		}
	}
	if a.Min != nil && a.Max != nil && *a.Min > *a.Max {
		problems = append(problems, fmt.Sprintf("min %d is greater than max %d", *a.Min, *a.Max))
	}
	if !supported {
		return problems
	}

	switch kind {
	case KindEnumeration:
		if len(a.Elements) == 0 {
			problems = append(problems, "enumeration needs at least one element")
		}
		if a.Default != nil {
			s := a.StringDefault()
			if s == nil || !contains(a.Elements, *s) {
				problems = append(problems, fmt.Sprintf("default %v is not one of the elements", a.Default))
			}
		}
	case KindInteger:
		if a.Default != nil {
			v := a.IntegerDefault()
			switch {
			case v == nil:
				problems = append(problems, fmt.Sprintf("default %v is not an integer", a.Default))
			case a.Min != nil && *v < *a.Min, a.Max != nil && *v > *a.Max:
				problems = append(problems, fmt.Sprintf("default %d is out of range", *v))
			}
		}
	case KindBoolean:
		if a.Default != nil && a.BooleanDefault() == nil {
			problems = append(problems, fmt.Sprintf("default %v is not a boolean", a.Default))
		}
	default:
		if a.Default != nil && a.StringDefault() == nil {
			problems = append(problems, fmt.Sprintf("default %v is not a string", a.Default))
		}
	}
	if kind != KindText && a.Size != 0 {
		problems = append(problems, "size applies to text attributes only")
	}
	return problems
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Warning is a non-fatal observation about a declaration.
type Warning struct {
	Collection string
	Attribute  string
	Message    string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s.%s: %s", w.Collection, w.Attribute, w.Message)
}

// Warnings lists the attributes the provisioner will skip because their kind
// is not supported.
func (d *Declaration) Warnings() []Warning {
	var out []Warning
	for _, c := range d.Collections {
		for _, a := range c.Attributes {
			if a.Kind.Supported() {
				continue
			}
			out = append(out, Warning{
				Collection: c.ID,
				Attribute:  a.Name,
				Message:    UnsupportedKindMessage(a.Kind),
			})
		}
	}
	return out
}

// UnsupportedKindMessage describes an unsupported kind, with a suggestion
// when one is close enough and the supported kinds otherwise.
func UnsupportedKindMessage(k Kind) string {
	msg := fmt.Sprintf("unsupported attribute kind %q", string(k))
	if s := Suggest(string(k)); s != "" {
		return msg + fmt.Sprintf(" (did you mean %q?)", s)
	}
	names := make([]string, 0, len(kinds))
	for _, kind := range Kinds() {
		names = append(names, string(kind))
	}
	return msg + " (supported: " + strings.Join(names, ", ") + ")"
}
