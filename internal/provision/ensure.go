package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/docpilot/docpilot/internal/schema"
	"github.com/docpilot/docpilot/internal/target"
)

// EnsureDatabase creates the declared database when the lookup reports it
// missing. It returns true when the database was created.
func (p *Provisioner) EnsureDatabase(ctx context.Context) (bool, error) {
	db := p.decl.Database
	p.reporter.StepStarted(StepDatabase, db.ID)

	_, err := p.op.GetDatabase(ctx, db.ID)
	switch {
	case err == nil:
		p.reporter.Existing(StepDatabase, db.ID)
		return false, nil
	case !errors.Is(err, target.ErrNotFound):
		return false, &StepError{Step: StepDatabase, Subject: db.ID, Err: err}
	}

	if err := p.op.CreateDatabase(ctx, db.ID, db.Name); err != nil {
		if errors.Is(err, target.ErrConflict) {
			p.reporter.Existing(StepDatabase, db.ID)
			return false, nil
		}
		return false, &StepError{Step: StepDatabase, Subject: db.ID, Err: err}
	}
	p.logger.Info("database created", "database", db.ID)
	p.reporter.Created(StepDatabase, db.ID)
	return true, nil
}

// EnsureCollection creates c with its permissions when the lookup reports it
// missing. An existing collection is left as it is, permissions included.
func (p *Provisioner) EnsureCollection(ctx context.Context, c schema.Collection) (bool, error) {
	dbID := p.decl.Database.ID
	p.reporter.StepStarted(StepCollection, c.ID)

	_, err := p.op.GetCollection(ctx, dbID, c.ID)
	switch {
	case err == nil:
		p.reporter.Existing(StepCollection, c.ID)
		return false, nil
	case !errors.Is(err, target.ErrNotFound):
		return false, &StepError{Step: StepCollection, Subject: c.ID, Err: err}
	}

	name := c.Name
	if name == "" {
		name = c.ID
	}
	if err := p.op.CreateCollection(ctx, dbID, c.ID, name, p.decl.CollectionPermissions(c)); err != nil {
		if errors.Is(err, target.ErrConflict) {
			p.reporter.Existing(StepCollection, c.ID)
			return false, nil
		}
		return false, &StepError{Step: StepCollection, Subject: c.ID, Err: err}
	}
	p.logger.Info("collection created", "collection", c.ID)
	p.reporter.Created(StepCollection, c.ID)
	return true, nil
}

// AttributeResult is the outcome of ensuring one collection's attributes.
type AttributeResult struct {
	Created  []string
	Existing []string
	Skipped  []string
	Warnings []schema.Warning
}

// EnsureAttributes issues one create call for every declared attribute whose
// key is not already present. Present attributes are never modified.
// Attributes of an unsupported kind are skipped with a warning.
func (p *Provisioner) EnsureAttributes(ctx context.Context, c schema.Collection) (*AttributeResult, error) {
	dbID := p.decl.Database.ID
	p.reporter.StepStarted(StepAttributes, c.ID)

	current, err := p.op.ListAttributes(ctx, dbID, c.ID)
	if err != nil {
		return nil, &StepError{Step: StepAttributes, Subject: c.ID, Err: err}
	}
	existing := make(map[string]bool, len(current))
	for _, a := range current {
		existing[a.Key] = true
	}

	res := &AttributeResult{}
	for _, a := range c.Attributes {
		subject := c.ID + "." + a.Name
		if existing[a.Name] {
			res.Existing = append(res.Existing, a.Name)
			p.reporter.Existing(StepAttributes, subject)
			continue
		}

		kind, ok := schema.ParseKind(string(a.Kind))
		if !ok {
			w := schema.Warning{Collection: c.ID, Attribute: a.Name, Message: schema.UnsupportedKindMessage(a.Kind)}
			res.Skipped = append(res.Skipped, a.Name)
			res.Warnings = append(res.Warnings, w)
			p.logger.Warn("attribute skipped", "collection", c.ID, "attribute", a.Name, "kind", a.Kind)
			p.reporter.Warning(subject, w.Message)
			continue
		}

		if err := p.createAttribute(ctx, c.ID, kind, a); err != nil {
			if errors.Is(err, target.ErrConflict) {
				res.Existing = append(res.Existing, a.Name)
				p.reporter.Existing(StepAttributes, subject)
				continue
			}
			return res, &StepError{Step: StepAttributes, Subject: subject, Err: err}
		}
		p.logger.Debug("attribute created", "collection", c.ID, "attribute", a.Name, "kind", kind)
		res.Created = append(res.Created, a.Name)
		p.reporter.Created(StepAttributes, subject)
	}
	return res, nil
}

func (p *Provisioner) createAttribute(ctx context.Context, collectionID string, kind schema.Kind, a schema.Attribute) error {
	dbID := p.decl.Database.ID
	switch kind {
	case schema.KindText:
		size := a.Size
		if size <= 0 {
			size = schema.DefaultTextSize
		}
		return p.op.CreateStringAttribute(ctx, dbID, collectionID, target.StringAttribute{
			Key: a.Name, Size: size, Required: a.Required, Default: a.StringDefault(), Array: a.Array,
		})
	case schema.KindInteger:
		return p.op.CreateIntegerAttribute(ctx, dbID, collectionID, target.IntegerAttribute{
			Key: a.Name, Required: a.Required, Min: a.Min, Max: a.Max, Default: a.IntegerDefault(), Array: a.Array,
		})
	case schema.KindTimestamp:
		return p.op.CreateDatetimeAttribute(ctx, dbID, collectionID, target.DatetimeAttribute{
			Key: a.Name, Required: a.Required, Default: a.StringDefault(), Array: a.Array,
		})
	case schema.KindEmail:
		return p.op.CreateEmailAttribute(ctx, dbID, collectionID, target.EmailAttribute{
			Key: a.Name, Required: a.Required, Default: a.StringDefault(), Array: a.Array,
		})
	case schema.KindEnumeration:
		return p.op.CreateEnumAttribute(ctx, dbID, collectionID, target.EnumAttribute{
			Key: a.Name, Elements: a.Elements, Required: a.Required, Default: a.StringDefault(), Array: a.Array,
		})
	case schema.KindBoolean:
		return p.op.CreateBooleanAttribute(ctx, dbID, collectionID, target.BooleanAttribute{
			Key: a.Name, Required: a.Required, Default: a.BooleanDefault(), Array: a.Array,
		})
	}
	return fmt.Errorf("attribute kind %q: %w", kind, target.ErrUnsupported)
}

// EnsureRelationship issues one create call for r. A conflict means the
// relationship already exists and counts as success. It returns true when
// the relationship was created.
func (p *Provisioner) EnsureRelationship(ctx context.Context, r schema.Relationship) (bool, error) {
	subject := r.Collection + "." + r.Key
	p.reporter.StepStarted(StepRelationships, subject)

	err := p.op.CreateRelationship(ctx, p.decl.Database.ID, target.Relationship{
		CollectionID:        r.Collection,
		RelatedCollectionID: r.RelatedCollection,
		Type:                string(r.Type),
		TwoWay:              r.TwoWay,
		Key:                 r.Key,
		TwoWayKey:           r.TwoWayKey,
		OnDelete:            onDelete(r.OnDelete),
	})
	switch {
	case err == nil:
		p.logger.Info("relationship created", "collection", r.Collection, "key", r.Key, "related", r.RelatedCollection)
		p.reporter.Created(StepRelationships, subject)
		return true, nil
	case errors.Is(err, target.ErrConflict):
		p.reporter.Existing(StepRelationships, subject)
		return false, nil
	}
	return false, &StepError{Step: StepRelationships, Subject: subject, Err: err}
}

func onDelete(o schema.OnDelete) string {
	if o == "" {
		return target.OnDeleteCascade
	}
	return string(o)
}
