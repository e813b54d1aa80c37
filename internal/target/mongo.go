package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Catalog collections kept in every provisioned MongoDB database.
const (
	mongoDatabaseCatalog   = "_docpilot_database"
	mongoCollectionCatalog = "_docpilot_collections"
	mongoAttributeCatalog  = "_docpilot_attributes"

	mongoNamespaceExists = 48
)

// MongoOperator implements Operator on MongoDB. Attributes are recorded in a
// catalog collection and enforced with a $jsonSchema validator that is
// rebuilt after every change.
type MongoOperator struct {
	client *mongo.Client
	logger *slog.Logger
}

type mongoCollectionDoc struct {
	ID          string   `bson:"_id"`
	Name        string   `bson:"name"`
	Permissions []string `bson:"permissions"`
}

type mongoAttributeDoc struct {
	ID         string   `bson:"_id"`
	Collection string   `bson:"collection"`
	Key        string   `bson:"key"`
	Type       string   `bson:"type"`
	Required   bool     `bson:"required"`
	Array      bool     `bson:"array"`
	Size       int      `bson:"size,omitempty"`
	Min        *int64   `bson:"min,omitempty"`
	Max        *int64   `bson:"max,omitempty"`
	Elements   []string `bson:"elements,omitempty"`
	Default    any      `bson:"default,omitempty"`
	Related    string   `bson:"relatedCollection,omitempty"`
	Relation   string   `bson:"relationType,omitempty"`
	OnDelete   string   `bson:"onDelete,omitempty"`
	Created    int64    `bson:"created"`
}

// NewMongoOperator connects to MongoDB. Each declared database maps to a
// MongoDB database of the same name.
func NewMongoOperator(ctx context.Context, connectionString string, logger *slog.Logger) (*MongoOperator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	return &MongoOperator{client: client, logger: logger}, nil
}

func (m *MongoOperator) GetDatabase(ctx context.Context, databaseID string) (*DatabaseInfo, error) {
	names, err := m.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: databaseID}})
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("database %s: %w", databaseID, ErrNotFound)
	}

	info := &DatabaseInfo{ID: databaseID, Name: databaseID}
	var doc struct {
		Name string `bson:"name"`
	}
	err = m.client.Database(databaseID).Collection(mongoDatabaseCatalog).
		FindOne(ctx, bson.D{{Key: "_id", Value: databaseID}}).Decode(&doc)
	if err == nil && doc.Name != "" {
		info.Name = doc.Name
	}
	return info, nil
}

// CreateDatabase materialises the database by writing its catalog entry;
// MongoDB creates databases lazily on first write.
func (m *MongoOperator) CreateDatabase(ctx context.Context, databaseID, name string) error {
	_, err := m.client.Database(databaseID).Collection(mongoDatabaseCatalog).
		InsertOne(ctx, bson.D{{Key: "_id", Value: databaseID}, {Key: "name", Value: name}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("database %s: %w", databaseID, ErrConflict)
		}
		return fmt.Errorf("creating database %s: %w", databaseID, err)
	}
	return nil
}

func (m *MongoOperator) collectionExists(ctx context.Context, databaseID, collectionID string) (bool, error) {
	names, err := m.client.Database(databaseID).ListCollectionNames(ctx, bson.D{{Key: "name", Value: collectionID}})
	if err != nil {
		return false, fmt.Errorf("listing collections: %w", err)
	}
	return len(names) > 0, nil
}

func (m *MongoOperator) GetCollection(ctx context.Context, databaseID, collectionID string) (*CollectionInfo, error) {
	ok, err := m.collectionExists(ctx, databaseID, collectionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}

	info := &CollectionInfo{ID: collectionID, Name: collectionID}
	var doc mongoCollectionDoc
	err = m.client.Database(databaseID).Collection(mongoCollectionCatalog).
		FindOne(ctx, bson.D{{Key: "_id", Value: collectionID}}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return nil, fmt.Errorf("reading catalog for %s: %w", collectionID, err)
	default:
		info.Name = doc.Name
		info.Permissions = doc.Permissions
	}
	return info, nil
}

func (m *MongoOperator) CreateCollection(ctx context.Context, databaseID, collectionID, name string, permissions []string) error {
	db := m.client.Database(databaseID)
	if err := db.CreateCollection(ctx, collectionID); err != nil {
		if isNamespaceExists(err) {
			return fmt.Errorf("collection %s: %w", collectionID, ErrConflict)
		}
		return fmt.Errorf("creating collection %s: %w", collectionID, err)
	}

	doc := mongoCollectionDoc{ID: collectionID, Name: name, Permissions: permissions}
	if _, err := db.Collection(mongoCollectionCatalog).InsertOne(ctx, doc); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("recording collection %s: %w", collectionID, err)
	}
	return nil
}

func (m *MongoOperator) attributeDocs(ctx context.Context, databaseID, collectionID string) ([]mongoAttributeDoc, error) {
	cur, err := m.client.Database(databaseID).Collection(mongoAttributeCatalog).Find(ctx,
		bson.D{{Key: "collection", Value: collectionID}},
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []mongoAttributeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListAttributes reads the attribute catalog. Validator changes apply
// synchronously, so every attribute is available.
func (m *MongoOperator) ListAttributes(ctx context.Context, databaseID, collectionID string) ([]AttributeInfo, error) {
	ok, err := m.collectionExists(ctx, databaseID, collectionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}
	docs, err := m.attributeDocs(ctx, databaseID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing attributes of %s: %w", collectionID, err)
	}
	out := make([]AttributeInfo, len(docs))
	for i, d := range docs {
		out[i] = AttributeInfo{
			Key:      d.Key,
			Type:     d.Type,
			Status:   StatusAvailable,
			Required: d.Required,
			Array:    d.Array,
			Size:     d.Size,
			Elements: d.Elements,
			Default:  d.Default,
		}
	}
	return out, nil
}

func (m *MongoOperator) addAttribute(ctx context.Context, databaseID, collectionID string, doc mongoAttributeDoc) error {
	ok, err := m.collectionExists(ctx, databaseID, collectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}

	doc.ID = collectionID + "." + doc.Key
	doc.Collection = collectionID
	doc.Created = time.Now().UnixNano()

	existing, err := m.attributeDocs(ctx, databaseID, collectionID)
	if err != nil {
		return fmt.Errorf("reading attributes of %s: %w", collectionID, err)
	}
	catalog := m.client.Database(databaseID).Collection(mongoAttributeCatalog)
	return stageAttribute(existing, doc,
		func(docs []mongoAttributeDoc) error {
			return m.setValidator(ctx, databaseID, collectionID, docs)
		},
		func() error {
			_, err := catalog.InsertOne(ctx, doc)
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("attribute %s: %w", doc.ID, ErrConflict)
			}
			return err
		},
	)
}

// stageAttribute widens the validator before recording doc in the catalog,
// so a failed collMod never leaves a catalog entry behind. When recording
// fails the validator is narrowed back to existing.
func stageAttribute(existing []mongoAttributeDoc, doc mongoAttributeDoc, apply func([]mongoAttributeDoc) error, record func() error) error {
	for _, d := range existing {
		if d.Key == doc.Key {
			return fmt.Errorf("attribute %s: %w", doc.ID, ErrConflict)
		}
	}
	docs := make([]mongoAttributeDoc, 0, len(existing)+1)
	docs = append(append(docs, existing...), doc)
	if err := apply(docs); err != nil {
		return err
	}
	if err := record(); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		if rbErr := apply(existing); rbErr != nil {
			return fmt.Errorf("recording attribute %s: %w (restoring validator: %v)", doc.ID, err, rbErr)
		}
		return fmt.Errorf("recording attribute %s: %w", doc.ID, err)
	}
	return nil
}

// setValidator replaces the collection's $jsonSchema with one built from
// docs. Moderate validation leaves existing non-conforming documents alone.
func (m *MongoOperator) setValidator(ctx context.Context, databaseID, collectionID string, docs []mongoAttributeDoc) error {
	schema := jsonSchemaFor(docs)
	m.logger.Debug("applying validator", "database", databaseID, "collection", collectionID, "attributes", len(docs))

	cmd := bson.D{
		{Key: "collMod", Value: collectionID},
		{Key: "validator", Value: bson.D{{Key: "$jsonSchema", Value: schema}}},
		{Key: "validationLevel", Value: "moderate"},
	}
	if err := m.client.Database(databaseID).RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("applying validator to %s: %w", collectionID, err)
	}
	return nil
}

func jsonSchemaFor(docs []mongoAttributeDoc) bson.M {
	props := bson.M{}
	var required []string
	for _, d := range docs {
		prop := fieldSchema(d)
		if d.Array {
			prop = bson.M{"bsonType": "array", "items": prop}
		}
		if d.Required {
			required = append(required, d.Key)
		} else {
			prop["bsonType"] = nullable(prop["bsonType"])
		}
		props[d.Key] = prop
	}
	schema := bson.M{"bsonType": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func nullable(bsonType any) []string {
	switch t := bsonType.(type) {
	case string:
		return []string{t, "null"}
	case []string:
		return append(append([]string{}, t...), "null")
	}
	return []string{"null"}
}

func fieldSchema(d mongoAttributeDoc) bson.M {
	switch d.Type {
	case "integer":
		s := bson.M{"bsonType": []string{"int", "long"}}
		if d.Min != nil {
			s["minimum"] = *d.Min
		}
		if d.Max != nil {
			s["maximum"] = *d.Max
		}
		return s
	case "boolean":
		return bson.M{"bsonType": "bool"}
	case "datetime":
		return bson.M{"bsonType": []string{"date", "string"}}
	case "email":
		return bson.M{"bsonType": "string", "pattern": `^[^@\s]+@[^@\s]+$`}
	case "enum":
		return bson.M{"bsonType": "string", "enum": d.Elements}
	case "relationship":
		// Related document ids; Array wraps to-many sides.
		return bson.M{"bsonType": "string"}
	}
	s := bson.M{"bsonType": "string"}
	if d.Size > 0 {
		s["maxLength"] = d.Size
	}
	return s
}

func (m *MongoOperator) CreateStringAttribute(ctx context.Context, databaseID, collectionID string, attr StringAttribute) error {
	return m.addAttribute(ctx, databaseID, collectionID, mongoAttributeDoc{
		Key: attr.Key, Type: "string", Required: attr.Required, Array: attr.Array,
		Size: attr.Size, Default: derefString(attr.Default),
	})
}

func (m *MongoOperator) CreateIntegerAttribute(ctx context.Context, databaseID, collectionID string, attr IntegerAttribute) error {
	doc := mongoAttributeDoc{
		Key: attr.Key, Type: "integer", Required: attr.Required, Array: attr.Array,
		Min: attr.Min, Max: attr.Max,
	}
	if attr.Default != nil {
		doc.Default = *attr.Default
	}
	return m.addAttribute(ctx, databaseID, collectionID, doc)
}

func (m *MongoOperator) CreateDatetimeAttribute(ctx context.Context, databaseID, collectionID string, attr DatetimeAttribute) error {
	return m.addAttribute(ctx, databaseID, collectionID, mongoAttributeDoc{
		Key: attr.Key, Type: "datetime", Required: attr.Required, Array: attr.Array, Default: derefString(attr.Default),
	})
}

func (m *MongoOperator) CreateEmailAttribute(ctx context.Context, databaseID, collectionID string, attr EmailAttribute) error {
	return m.addAttribute(ctx, databaseID, collectionID, mongoAttributeDoc{
		Key: attr.Key, Type: "email", Required: attr.Required, Array: attr.Array, Default: derefString(attr.Default),
	})
}

func (m *MongoOperator) CreateEnumAttribute(ctx context.Context, databaseID, collectionID string, attr EnumAttribute) error {
	return m.addAttribute(ctx, databaseID, collectionID, mongoAttributeDoc{
		Key: attr.Key, Type: "enum", Required: attr.Required, Array: attr.Array,
		Elements: attr.Elements, Default: derefString(attr.Default),
	})
}

func (m *MongoOperator) CreateBooleanAttribute(ctx context.Context, databaseID, collectionID string, attr BooleanAttribute) error {
	doc := mongoAttributeDoc{Key: attr.Key, Type: "boolean", Required: attr.Required, Array: attr.Array}
	if attr.Default != nil {
		doc.Default = *attr.Default
	}
	return m.addAttribute(ctx, databaseID, collectionID, doc)
}

// CreateRelationship records a reference attribute holding related document
// ids. MongoDB has no referential actions, so OnDelete is stored for
// application code to honour.
func (m *MongoOperator) CreateRelationship(ctx context.Context, databaseID string, rel Relationship) error {
	if err := validRelation(rel); err != nil {
		return err
	}
	ok, err := m.collectionExists(ctx, databaseID, rel.RelatedCollectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("related collection %s: %w", rel.RelatedCollectionID, ErrNotFound)
	}

	err = m.addAttribute(ctx, databaseID, rel.CollectionID, mongoAttributeDoc{
		Key: rel.Key, Type: "relationship", Array: toMany(rel.Type),
		Related: rel.RelatedCollectionID, Relation: rel.Type, OnDelete: rel.OnDelete,
	})
	if err != nil || !rel.TwoWay {
		return err
	}

	twoWayKey := rel.TwoWayKey
	if twoWayKey == "" {
		twoWayKey = rel.CollectionID
	}
	back := inverse(rel.Type)
	return m.addAttribute(ctx, databaseID, rel.RelatedCollectionID, mongoAttributeDoc{
		Key: twoWayKey, Type: "relationship", Array: toMany(back),
		Related: rel.CollectionID, Relation: back, OnDelete: rel.OnDelete,
	})
}

// Close disconnects from MongoDB.
func (m *MongoOperator) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func isNamespaceExists(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == mongoNamespaceExists {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}
