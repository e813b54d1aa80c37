// Package target is the boundary to the remote database service that the
// provisioner converges toward a declaration.
package target

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups when the entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by create calls when the entity already exists.
	ErrConflict = errors.New("already exists")
	// ErrUnsupported is returned when a backend cannot represent a request.
	ErrUnsupported = errors.New("not supported by this backend")
)

// Operator defines the calls the provisioner makes against the remote
// database. Create calls return ErrConflict (possibly wrapped) when the
// entity already exists.
type Operator interface {
	GetDatabase(ctx context.Context, databaseID string) (*DatabaseInfo, error)
	CreateDatabase(ctx context.Context, databaseID, name string) error

	GetCollection(ctx context.Context, databaseID, collectionID string) (*CollectionInfo, error)
	CreateCollection(ctx context.Context, databaseID, collectionID, name string, permissions []string) error

	ListAttributes(ctx context.Context, databaseID, collectionID string) ([]AttributeInfo, error)
	CreateStringAttribute(ctx context.Context, databaseID, collectionID string, attr StringAttribute) error
	CreateIntegerAttribute(ctx context.Context, databaseID, collectionID string, attr IntegerAttribute) error
	CreateDatetimeAttribute(ctx context.Context, databaseID, collectionID string, attr DatetimeAttribute) error
	CreateEmailAttribute(ctx context.Context, databaseID, collectionID string, attr EmailAttribute) error
	CreateEnumAttribute(ctx context.Context, databaseID, collectionID string, attr EnumAttribute) error
	CreateBooleanAttribute(ctx context.Context, databaseID, collectionID string, attr BooleanAttribute) error

	CreateRelationship(ctx context.Context, databaseID string, rel Relationship) error

	Close(ctx context.Context) error
}

// DatabaseInfo describes an existing database.
type DatabaseInfo struct {
	ID   string
	Name string
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	ID          string
	Name        string
	Permissions []string
}

// Attribute statuses. Backends that apply schema changes synchronously
// report StatusAvailable immediately.
const (
	StatusAvailable  = "available"
	StatusProcessing = "processing"
	StatusDeleting   = "deleting"
	StatusStuck      = "stuck"
	StatusFailed     = "failed"
)

// AttributeInfo describes an attribute as reported by the remote database.
type AttributeInfo struct {
	Key      string
	Type     string
	Status   string
	Required bool
	Array    bool
	Size     int
	Elements []string
	Default  any
	Error    string
}

// StringAttribute is a bounded text attribute.
type StringAttribute struct {
	Key      string
	Size     int
	Required bool
	Default  *string
	Array    bool
}

// IntegerAttribute is a 64-bit integer attribute with optional bounds.
type IntegerAttribute struct {
	Key      string
	Required bool
	Min      *int64
	Max      *int64
	Default  *int64
	Array    bool
}

// DatetimeAttribute is an ISO 8601 timestamp attribute.
type DatetimeAttribute struct {
	Key      string
	Required bool
	Default  *string
	Array    bool
}

// EmailAttribute is a text attribute holding an e-mail address.
type EmailAttribute struct {
	Key      string
	Required bool
	Default  *string
	Array    bool
}

// EnumAttribute restricts values to Elements.
type EnumAttribute struct {
	Key      string
	Elements []string
	Required bool
	Default  *string
	Array    bool
}

// BooleanAttribute is a true/false attribute.
type BooleanAttribute struct {
	Key      string
	Required bool
	Default  *bool
	Array    bool
}

// Relationship types, using the Appwrite wire names.
const (
	RelationOneToOne   = "oneToOne"
	RelationOneToMany  = "oneToMany"
	RelationManyToOne  = "manyToOne"
	RelationManyToMany = "manyToMany"
)

// On-delete policies, using the Appwrite wire names.
const (
	OnDeleteCascade  = "cascade"
	OnDeleteSetNull  = "setNull"
	OnDeleteRestrict = "restrict"
)

// Relationship links CollectionID to RelatedCollectionID through an
// attribute named Key on the source collection.
type Relationship struct {
	CollectionID        string
	RelatedCollectionID string
	Type                string
	TwoWay              bool
	Key                 string
	TwoWayKey           string
	OnDelete            string
}

// toMany reports whether the source side of a relationship holds a list.
func toMany(relationType string) bool {
	return relationType == RelationOneToMany || relationType == RelationManyToMany
}

// inverse returns the relationship type seen from the related collection.
func inverse(relationType string) string {
	switch relationType {
	case RelationOneToMany:
		return RelationManyToOne
	case RelationManyToOne:
		return RelationOneToMany
	}
	return relationType
}

func validRelation(rel Relationship) error {
	switch rel.Type {
	case RelationOneToOne, RelationOneToMany, RelationManyToOne, RelationManyToMany:
	default:
		return fmt.Errorf("relationship type %q: %w", rel.Type, ErrUnsupported)
	}
	switch rel.OnDelete {
	case OnDeleteCascade, OnDeleteSetNull, OnDeleteRestrict:
	default:
		return fmt.Errorf("on-delete policy %q: %w", rel.OnDelete, ErrUnsupported)
	}
	return nil
}

// Permission formats a permission string such as read("any").
func Permission(action, role string) string {
	return fmt.Sprintf("%s(%q)", action, role)
}
