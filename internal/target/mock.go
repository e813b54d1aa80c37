package target

import (
	"context"
	"fmt"
	"sync"
)

// MemoryOperator is an in-memory Operator. It keeps real state so that
// repeated provisioning runs can be observed, and supports failure injection
// and simulated asynchronous attribute creation.
type MemoryOperator struct {
	mu        sync.Mutex
	databases map[string]*memDatabase

	// PendingPolls keeps each new attribute in StatusProcessing for this
	// many ListAttributes calls on its collection.
	PendingPolls int
	// FailAttributes lists "collection.key" attributes that end up
	// StatusFailed instead of available.
	FailAttributes map[string]bool
	// Errors injects failures keyed by method name ("CreateRelationship")
	// or by method and target ("CreateRelationship:patients.patient",
	// "GetCollection:doctors").
	Errors map[string]error

	// Calls records every mutating call, e.g. "CreateStringAttribute patients.full_name".
	Calls []string
}

type memDatabase struct {
	info        DatabaseInfo
	collections map[string]*memCollection
}

type memCollection struct {
	info  CollectionInfo
	attrs []*memAttribute
}

type memAttribute struct {
	info    AttributeInfo
	pending int
	rel     *Relationship
}

// NewMemoryOperator returns an empty in-memory database service.
func NewMemoryOperator() *MemoryOperator {
	return &MemoryOperator{databases: make(map[string]*memDatabase)}
}

// SeedCollection creates a collection, and its database if needed, with the
// given attributes already available. It bypasses Calls and Errors.
func (m *MemoryOperator) SeedCollection(databaseID, collectionID, name string, attrs ...AttributeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	db := m.databases[databaseID]
	if db == nil {
		db = &memDatabase{info: DatabaseInfo{ID: databaseID, Name: databaseID}, collections: make(map[string]*memCollection)}
		m.databases[databaseID] = db
	}
	c := db.collections[collectionID]
	if c == nil {
		c = &memCollection{info: CollectionInfo{ID: collectionID, Name: name}}
		db.collections[collectionID] = c
	}
	for _, a := range attrs {
		if a.Status == "" {
			a.Status = StatusAvailable
		}
		c.attrs = append(c.attrs, &memAttribute{info: a})
	}
}

// Attributes returns a snapshot of a collection's attributes without
// advancing pending statuses.
func (m *MemoryOperator) Attributes(databaseID, collectionID string) []AttributeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(databaseID, collectionID)
	if c == nil {
		return nil
	}
	out := make([]AttributeInfo, len(c.attrs))
	for i, a := range c.attrs {
		out[i] = a.info
	}
	return out
}

// Collections returns the ids of the collections in a database.
func (m *MemoryOperator) Collections(databaseID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	db := m.databases[databaseID]
	if db == nil {
		return nil
	}
	ids := make([]string, 0, len(db.collections))
	for id := range db.collections {
		ids = append(ids, id)
	}
	return ids
}

// Relationships returns every relationship created through the operator.
func (m *MemoryOperator) Relationships(databaseID string) []Relationship {
	m.mu.Lock()
	defer m.mu.Unlock()

	db := m.databases[databaseID]
	if db == nil {
		return nil
	}
	var out []Relationship
	for _, c := range db.collections {
		for _, a := range c.attrs {
			if a.rel != nil && a.rel.CollectionID == c.info.ID {
				out = append(out, *a.rel)
			}
		}
	}
	return out
}

func (m *MemoryOperator) injected(method, target string) error {
	if m.Errors == nil {
		return nil
	}
	if err, ok := m.Errors[method+":"+target]; ok {
		return err
	}
	return m.Errors[method]
}

func (m *MemoryOperator) collection(databaseID, collectionID string) *memCollection {
	db := m.databases[databaseID]
	if db == nil {
		return nil
	}
	return db.collections[collectionID]
}

func (m *MemoryOperator) GetDatabase(_ context.Context, databaseID string) (*DatabaseInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("GetDatabase", databaseID); err != nil {
		return nil, err
	}
	db := m.databases[databaseID]
	if db == nil {
		return nil, fmt.Errorf("database %s: %w", databaseID, ErrNotFound)
	}
	info := db.info
	return &info, nil
}

func (m *MemoryOperator) CreateDatabase(_ context.Context, databaseID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "CreateDatabase "+databaseID)
	if err := m.injected("CreateDatabase", databaseID); err != nil {
		return err
	}
	if _, ok := m.databases[databaseID]; ok {
		return fmt.Errorf("database %s: %w", databaseID, ErrConflict)
	}
	m.databases[databaseID] = &memDatabase{
		info:        DatabaseInfo{ID: databaseID, Name: name},
		collections: make(map[string]*memCollection),
	}
	return nil
}

func (m *MemoryOperator) GetCollection(_ context.Context, databaseID, collectionID string) (*CollectionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("GetCollection", collectionID); err != nil {
		return nil, err
	}
	c := m.collection(databaseID, collectionID)
	if c == nil {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}
	info := c.info
	return &info, nil
}

func (m *MemoryOperator) CreateCollection(_ context.Context, databaseID, collectionID, name string, permissions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, "CreateCollection "+collectionID)
	if err := m.injected("CreateCollection", collectionID); err != nil {
		return err
	}
	db := m.databases[databaseID]
	if db == nil {
		return fmt.Errorf("database %s: %w", databaseID, ErrNotFound)
	}
	if _, ok := db.collections[collectionID]; ok {
		return fmt.Errorf("collection %s: %w", collectionID, ErrConflict)
	}
	perms := make([]string, len(permissions))
	copy(perms, permissions)
	db.collections[collectionID] = &memCollection{
		info: CollectionInfo{ID: collectionID, Name: name, Permissions: perms},
	}
	return nil
}

func (m *MemoryOperator) ListAttributes(_ context.Context, databaseID, collectionID string) ([]AttributeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("ListAttributes", collectionID); err != nil {
		return nil, err
	}
	c := m.collection(databaseID, collectionID)
	if c == nil {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}
	out := make([]AttributeInfo, len(c.attrs))
	for i, a := range c.attrs {
		if a.pending > 0 {
			a.pending--
			if a.pending == 0 {
				a.info.Status = StatusAvailable
				if m.FailAttributes[collectionID+"."+a.info.Key] {
					a.info.Status = StatusFailed
					a.info.Error = "simulated failure"
				}
			}
		}
		out[i] = a.info
	}
	return out, nil
}

// addAttribute appends info to the collection, honouring injection,
// conflicts and PendingPolls.
func (m *MemoryOperator) addAttribute(method, databaseID, collectionID string, info AttributeInfo, rel *Relationship) error {
	m.Calls = append(m.Calls, method+" "+collectionID+"."+info.Key)
	if err := m.injected(method, collectionID+"."+info.Key); err != nil {
		return err
	}
	c := m.collection(databaseID, collectionID)
	if c == nil {
		return fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}
	for _, a := range c.attrs {
		if a.info.Key == info.Key {
			return fmt.Errorf("attribute %s.%s: %w", collectionID, info.Key, ErrConflict)
		}
	}

	a := &memAttribute{info: info, pending: m.PendingPolls, rel: rel}
	a.info.Status = StatusAvailable
	if a.pending > 0 {
		a.info.Status = StatusProcessing
	} else if m.FailAttributes[collectionID+"."+info.Key] {
		a.info.Status = StatusFailed
	}
	c.attrs = append(c.attrs, a)
	return nil
}

func (m *MemoryOperator) CreateStringAttribute(_ context.Context, databaseID, collectionID string, attr StringAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addAttribute("CreateStringAttribute", databaseID, collectionID, AttributeInfo{
		Key: attr.Key, Type: "string", Required: attr.Required, Array: attr.Array,
		Size: attr.Size, Default: derefString(attr.Default),
	}, nil)
}

func (m *MemoryOperator) CreateIntegerAttribute(_ context.Context, databaseID, collectionID string, attr IntegerAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var def any
	if attr.Default != nil {
		def = *attr.Default
	}
	return m.addAttribute("CreateIntegerAttribute", databaseID, collectionID, AttributeInfo{
		Key: attr.Key, Type: "integer", Required: attr.Required, Array: attr.Array, Default: def,
	}, nil)
}

func (m *MemoryOperator) CreateDatetimeAttribute(_ context.Context, databaseID, collectionID string, attr DatetimeAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addAttribute("CreateDatetimeAttribute", databaseID, collectionID, AttributeInfo{
		Key: attr.Key, Type: "datetime", Required: attr.Required, Array: attr.Array, Default: derefString(attr.Default),
	}, nil)
}

func (m *MemoryOperator) CreateEmailAttribute(_ context.Context, databaseID, collectionID string, attr EmailAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addAttribute("CreateEmailAttribute", databaseID, collectionID, AttributeInfo{
		Key: attr.Key, Type: "email", Required: attr.Required, Array: attr.Array, Default: derefString(attr.Default),
	}, nil)
}

func (m *MemoryOperator) CreateEnumAttribute(_ context.Context, databaseID, collectionID string, attr EnumAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	elements := make([]string, len(attr.Elements))
	copy(elements, attr.Elements)
	return m.addAttribute("CreateEnumAttribute", databaseID, collectionID, AttributeInfo{
		Key: attr.Key, Type: "enum", Required: attr.Required, Array: attr.Array,
		Elements: elements, Default: derefString(attr.Default),
	}, nil)
}

func (m *MemoryOperator) CreateBooleanAttribute(_ context.Context, databaseID, collectionID string, attr BooleanAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var def any
	if attr.Default != nil {
		def = *attr.Default
	}
	return m.addAttribute("CreateBooleanAttribute", databaseID, collectionID, AttributeInfo{
		Key: attr.Key, Type: "boolean", Required: attr.Required, Array: attr.Array, Default: def,
	}, nil)
}

func (m *MemoryOperator) CreateRelationship(_ context.Context, databaseID string, rel Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validRelation(rel); err != nil {
		return err
	}
	if m.collection(databaseID, rel.RelatedCollectionID) == nil {
		m.Calls = append(m.Calls, "CreateRelationship "+rel.CollectionID+"."+rel.Key)
		return fmt.Errorf("related collection %s: %w", rel.RelatedCollectionID, ErrNotFound)
	}

	r := rel
	err := m.addAttribute("CreateRelationship", databaseID, rel.CollectionID, AttributeInfo{
		Key: rel.Key, Type: "relationship", Array: toMany(rel.Type),
	}, &r)
	if err != nil || !rel.TwoWay {
		return err
	}

	twoWayKey := rel.TwoWayKey
	if twoWayKey == "" {
		twoWayKey = rel.CollectionID
	}
	return m.addAttribute("CreateRelationship", databaseID, rel.RelatedCollectionID, AttributeInfo{
		Key: twoWayKey, Type: "relationship", Array: toMany(inverse(rel.Type)),
	}, &r)
}

func (m *MemoryOperator) Close(_ context.Context) error {
	return m.injected("Close", "")
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
