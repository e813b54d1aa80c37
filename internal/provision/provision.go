// Package provision converges a remote database toward a schema declaration.
// Every step is additive: missing entities are created, existing ones are
// left untouched, and a failed run can simply be repeated.
package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/docpilot/docpilot/internal/schema"
	"github.com/docpilot/docpilot/internal/target"
)

const (
	DefaultWaitTimeout  = 2 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond
)

// Provisioner applies one declaration through one Operator.
type Provisioner struct {
	op       target.Operator
	decl     *schema.Declaration
	reporter Reporter
	logger   *slog.Logger

	waitTimeout  time.Duration
	pollInterval time.Duration
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) Option {
	return func(p *Provisioner) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithReadiness sets how long to wait for new attributes to become
// available and how often to check. Zero values keep the defaults.
func WithReadiness(timeout, interval time.Duration) Option {
	return func(p *Provisioner) {
		if timeout > 0 {
			p.waitTimeout = timeout
		}
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// New returns a Provisioner for decl, which must already be validated.
func New(op target.Operator, decl *schema.Declaration, opts ...Option) *Provisioner {
	p := &Provisioner{
		op:           op,
		decl:         decl,
		reporter:     NopReporter{},
		logger:       slog.Default(),
		waitTimeout:  DefaultWaitTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result summarises a run. On failure it holds what was done before the
// failing step.
type Result struct {
	DatabaseID      string               `json:"database_id"`
	DatabaseCreated bool                 `json:"database_created"`
	Collections     []CollectionResult   `json:"collections"`
	Relationships   []RelationshipResult `json:"relationships"`
	Warnings        []string             `json:"warnings,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	Duration        time.Duration        `json:"duration_ns"`
	Error           string               `json:"error,omitempty"`
}

// CollectionResult records what happened to one collection.
type CollectionResult struct {
	ID                 string   `json:"id"`
	Created            bool     `json:"created"`
	AttributesCreated  []string `json:"attributes_created"`
	AttributesExisting []string `json:"attributes_existing"`
	AttributesSkipped  []string `json:"attributes_skipped,omitempty"`
}

// RelationshipResult records what happened to one relationship.
type RelationshipResult struct {
	Collection        string `json:"collection"`
	Key               string `json:"key"`
	RelatedCollection string `json:"related_collection"`
	Created           bool   `json:"created"`
}

// CreatedCount returns the number of entities the run created.
func (r *Result) CreatedCount() int {
	n := 0
	if r.DatabaseCreated {
		n++
	}
	for _, c := range r.Collections {
		if c.Created {
			n++
		}
		n += len(c.AttributesCreated)
	}
	for _, rel := range r.Relationships {
		if rel.Created {
			n++
		}
	}
	return n
}

// Run ensures the database, then each collection and its attributes, waits
// for new attributes to become available, then ensures every relationship.
// It stops at the first fatal error and returns it as a *StepError.
func (p *Provisioner) Run(ctx context.Context) (*Result, error) {
	res := &Result{DatabaseID: p.decl.Database.ID, StartedAt: time.Now()}
	fail := func(err error) (*Result, error) {
		res.Duration = time.Since(res.StartedAt)
		res.Error = err.Error()
		var se *StepError
		if errors.As(err, &se) {
			p.reporter.Failed(se)
		}
		p.logger.Error("provisioning failed", "error", err)
		return res, err
	}

	p.logger.Info("provisioning started",
		"database", p.decl.Database.ID,
		"collections", len(p.decl.Collections),
		"relationships", len(p.decl.Relationships))

	created, err := p.EnsureDatabase(ctx)
	if err != nil {
		return fail(err)
	}
	res.DatabaseCreated = created

	pending := make(map[string][]string)
	var order []string
	for _, c := range p.decl.Collections {
		cr := CollectionResult{ID: c.ID}
		if cr.Created, err = p.EnsureCollection(ctx, c); err != nil {
			return fail(err)
		}
		ar, err := p.EnsureAttributes(ctx, c)
		if err != nil {
			return fail(err)
		}
		cr.AttributesCreated = ar.Created
		cr.AttributesExisting = ar.Existing
		cr.AttributesSkipped = ar.Skipped
		for _, w := range ar.Warnings {
			res.Warnings = append(res.Warnings, w.String())
		}
		res.Collections = append(res.Collections, cr)
		if len(ar.Created) > 0 {
			pending[c.ID] = ar.Created
			order = append(order, c.ID)
		}
	}

	if err := p.WaitForAttributes(ctx, order, pending); err != nil {
		return fail(err)
	}

	for _, r := range p.decl.Relationships {
		created, err := p.EnsureRelationship(ctx, r)
		if err != nil {
			return fail(err)
		}
		res.Relationships = append(res.Relationships, RelationshipResult{
			Collection:        r.Collection,
			Key:               r.Key,
			RelatedCollection: r.RelatedCollection,
			Created:           created,
		})
	}

	res.Duration = time.Since(res.StartedAt)
	p.logger.Info("provisioning finished", "created", res.CreatedCount(), "duration", res.Duration)
	p.reporter.Finished(res)
	return res, nil
}
