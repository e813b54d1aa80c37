package provision

import (
	"context"
	"errors"

	"github.com/docpilot/docpilot/internal/target"
)

// Plan is the difference between a declaration and the remote state,
// computed with read-only calls.
type Plan struct {
	DatabaseID     string             `json:"database_id"`
	CreateDatabase bool               `json:"create_database"`
	Collections    []CollectionPlan   `json:"collections"`
	Relationships  []RelationshipPlan `json:"relationships"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// CollectionPlan lists the changes planned for one collection.
type CollectionPlan struct {
	ID                string   `json:"id"`
	Create            bool     `json:"create"`
	MissingAttributes []string `json:"missing_attributes"`
	Skipped           []string `json:"skipped,omitempty"`
}

// RelationshipPlan says whether a relationship key is missing from its source
// collection.
type RelationshipPlan struct {
	Collection        string `json:"collection"`
	Key               string `json:"key"`
	RelatedCollection string `json:"related_collection"`
	Create            bool   `json:"create"`
}

// Changes returns the number of create calls a run would issue.
func (pl *Plan) Changes() int {
	n := 0
	if pl.CreateDatabase {
		n++
	}
	for _, c := range pl.Collections {
		if c.Create {
			n++
		}
		n += len(c.MissingAttributes)
	}
	for _, r := range pl.Relationships {
		if r.Create {
			n++
		}
	}
	return n
}

// Plan computes what Run would create without changing anything.
func (p *Provisioner) Plan(ctx context.Context) (*Plan, error) {
	dbID := p.decl.Database.ID
	pl := &Plan{DatabaseID: dbID}
	for _, w := range p.decl.Warnings() {
		pl.Warnings = append(pl.Warnings, w.String())
	}

	_, err := p.op.GetDatabase(ctx, dbID)
	switch {
	case errors.Is(err, target.ErrNotFound):
		pl.CreateDatabase = true
	case err != nil:
		return nil, &StepError{Step: StepDatabase, Subject: dbID, Err: err}
	}

	keys := make(map[string]map[string]bool)
	for _, c := range p.decl.Collections {
		cp := CollectionPlan{ID: c.ID, Create: pl.CreateDatabase}
		present := map[string]bool{}
		if !cp.Create {
			_, err := p.op.GetCollection(ctx, dbID, c.ID)
			switch {
			case errors.Is(err, target.ErrNotFound):
				cp.Create = true
			case err != nil:
				return nil, &StepError{Step: StepCollection, Subject: c.ID, Err: err}
			}
		}
		if !cp.Create {
			attrs, err := p.op.ListAttributes(ctx, dbID, c.ID)
			if err != nil {
				return nil, &StepError{Step: StepAttributes, Subject: c.ID, Err: err}
			}
			for _, a := range attrs {
				present[a.Key] = true
			}
		}
		keys[c.ID] = present

		for _, a := range c.Attributes {
			switch {
			case present[a.Name]:
			case !a.Kind.Supported():
				cp.Skipped = append(cp.Skipped, a.Name)
			default:
				cp.MissingAttributes = append(cp.MissingAttributes, a.Name)
			}
		}
		pl.Collections = append(pl.Collections, cp)
	}

	for _, r := range p.decl.Relationships {
		pl.Relationships = append(pl.Relationships, RelationshipPlan{
			Collection:        r.Collection,
			Key:               r.Key,
			RelatedCollection: r.RelatedCollection,
			Create:            !keys[r.Collection][r.Key],
		})
	}
	return pl, nil
}
