// Package schema describes the desired end state of a database: collections,
// their typed attributes and the relationships between them.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the declared type of an attribute.
type Kind string

const (
	KindText        Kind = "text"
	KindInteger     Kind = "integer"
	KindTimestamp   Kind = "timestamp"
	KindEmail       Kind = "email"
	KindEnumeration Kind = "enumeration"
	KindBoolean     Kind = "boolean"
)

var kinds = []Kind{KindText, KindInteger, KindTimestamp, KindEmail, KindEnumeration, KindBoolean}

// kindAliases maps the spellings used by backends and older declarations to
// the canonical kind.
var kindAliases = map[string]Kind{
	"string":   KindText,
	"int":      KindInteger,
	"datetime": KindTimestamp,
	"enum":     KindEnumeration,
	"bool":     KindBoolean,
}

// Kinds returns the supported attribute kinds in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind resolves a kind name or alias. The second return value is false
// for kinds the provisioner cannot create.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range kinds {
		if string(k) == s {
			return k, true
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, true
	}
	return Kind(s), false
}

// Supported reports whether k is one of the creatable kinds.
func (k Kind) Supported() bool {
	_, ok := ParseKind(string(k))
	return ok
}

// Cardinality is the shape of a relationship, using the wire names of the
// remote database API.
type Cardinality string

const (
	OneToOne   Cardinality = "oneToOne"
	OneToMany  Cardinality = "oneToMany"
	ManyToOne  Cardinality = "manyToOne"
	ManyToMany Cardinality = "manyToMany"
)

// ParseCardinality accepts camelCase, kebab-case and snake_case spellings.
func ParseCardinality(s string) (Cardinality, error) {
	switch normalizeWord(s) {
	case "onetoone":
		return OneToOne, nil
	case "onetomany":
		return OneToMany, nil
	case "manytoone":
		return ManyToOne, nil
	case "manytomany":
		return ManyToMany, nil
	}
	return "", fmt.Errorf("unknown relationship type %q", s)
}

// ToMany reports whether the source side holds a list of related records.
func (c Cardinality) ToMany() bool {
	return c == OneToMany || c == ManyToMany
}

// OnDelete is the policy applied to the relationship when the referenced
// record is deleted.
type OnDelete string

const (
	Cascade  OnDelete = "cascade"
	SetNull  OnDelete = "setNull"
	Restrict OnDelete = "restrict"
)

// ParseOnDelete accepts "cascade", "set-null", "set_null", "setNull" and
// "restrict". An empty string means cascade.
func ParseOnDelete(s string) (OnDelete, error) {
	switch normalizeWord(s) {
	case "", "cascade":
		return Cascade, nil
	case "setnull":
		return SetNull, nil
	case "restrict":
		return Restrict, nil
	}
	return "", fmt.Errorf("unknown on-delete policy %q", s)
}

func normalizeWord(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

// Declaration is the complete desired state of one database.
type Declaration struct {
	Version       int            `yaml:"version"`
	Database      Database       `yaml:"database"`
	Permissions   []string       `yaml:"permissions,omitempty"`
	Collections   []Collection   `yaml:"collections"`
	Relationships []Relationship `yaml:"relationships,omitempty"`
}

// Database names the container that holds the collections.
type Database struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Collection is a named container of records with an ordered attribute list.
type Collection struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Permissions []string    `yaml:"permissions,omitempty"`
	Attributes  []Attribute `yaml:"attributes"`
}

// Attribute is a typed field declaration on a collection.
type Attribute struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Required bool     `yaml:"required,omitempty"`
	Size     int      `yaml:"size,omitempty"`     // text only, default 255
	Min      *int64   `yaml:"min,omitempty"`      // integer only
	Max      *int64   `yaml:"max,omitempty"`      // integer only
	Elements []string `yaml:"elements,omitempty"` // enumeration only
	Default  any      `yaml:"default,omitempty"`
	Array    bool     `yaml:"array,omitempty"`
}

// Relationship is a directed link from Collection to RelatedCollection.
type Relationship struct {
	Collection        string      `yaml:"collection"`
	RelatedCollection string      `yaml:"related_collection"`
	Type              Cardinality `yaml:"type"`
	Key               string      `yaml:"key"`
	TwoWay            bool        `yaml:"two_way,omitempty"`
	TwoWayKey         string      `yaml:"two_way_key,omitempty"`
	OnDelete          OnDelete    `yaml:"on_delete,omitempty"`
}

// DefaultTextSize is used for text attributes declared without a size.
const DefaultTextSize = 255

// DefaultPermissions grants public read and authenticated create, update and
// delete.
func DefaultPermissions() []string {
	return []string{
		`read("any")`,
		`create("users")`,
		`update("users")`,
		`delete("users")`,
	}
}

// CollectionPermissions returns the permissions to attach when creating c:
// the collection's own list, else the declaration-wide list, else the defaults.
func (d *Declaration) CollectionPermissions(c Collection) []string {
	if len(c.Permissions) > 0 {
		return c.Permissions
	}
	if len(d.Permissions) > 0 {
		return d.Permissions
	}
	return DefaultPermissions()
}

// Collection looks up a declared collection by id.
func (d *Declaration) Collection(id string) (Collection, bool) {
	for _, c := range d.Collections {
		if c.ID == id {
			return c, true
		}
	}
	return Collection{}, false
}

// RelationshipsFrom returns the relationships whose source is collectionID.
func (d *Declaration) RelationshipsFrom(collectionID string) []Relationship {
	var out []Relationship
	for _, r := range d.Relationships {
		if r.Collection == collectionID {
			out = append(out, r)
		}
	}
	return out
}

// normalize canonicalises kind aliases, relationship spellings and size
// defaults in place. Unknown kinds and cardinalities are left as written so
// that validation can report them.
func (d *Declaration) normalize() {
	for ci := range d.Collections {
		attrs := d.Collections[ci].Attributes
		for ai := range attrs {
			if k, ok := ParseKind(string(attrs[ai].Kind)); ok {
				attrs[ai].Kind = k
			}
			if attrs[ai].Kind == KindText && attrs[ai].Size == 0 {
				attrs[ai].Size = DefaultTextSize
			}
		}
	}
	for i := range d.Relationships {
		r := &d.Relationships[i]
		if c, err := ParseCardinality(string(r.Type)); err == nil {
			r.Type = c
		}
		if p, err := ParseOnDelete(string(r.OnDelete)); err == nil {
			r.OnDelete = p
		}
	}
}

// StringDefault returns the default for text, timestamp, email and
// enumeration attributes.
func (a Attribute) StringDefault() *string {
	s, ok := a.Default.(string)
	if !ok {
		return nil
	}
	return &s
}

// IntegerDefault returns the default for integer attributes.
func (a Attribute) IntegerDefault() *int64 {
	v, ok := toInt64(a.Default)
	if !ok {
		return nil
	}
	return &v
}

// BooleanDefault returns the default for boolean attributes.
func (a Attribute) BooleanDefault() *bool {
	b, ok := a.Default.(bool)
	if !ok {
		return nil
	}
	return &b
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
