package provision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/docpilot/docpilot/internal/schema"
	"github.com/docpilot/docpilot/internal/target"
)

const dbID = "dbDocpilot"

type recorder struct {
	events   []string
	waits    int
	failed   *StepError
	finished *Result
}

func (r *recorder) StepStarted(step Step, subject string) {
	r.events = append(r.events, fmt.Sprintf("start %s %s", step, subject))
}
func (r *recorder) Created(step Step, subject string) {
	r.events = append(r.events, fmt.Sprintf("created %s %s", step, subject))
}
func (r *recorder) Existing(step Step, subject string) {
	r.events = append(r.events, fmt.Sprintf("exists %s %s", step, subject))
}
func (r *recorder) Warning(subject, message string) {
	r.events = append(r.events, fmt.Sprintf("warn %s %s", subject, message))
}
func (r *recorder) Waiting(pending []string, _ time.Duration) { r.waits++ }
func (r *recorder) Failed(err *StepError)                     { r.failed = err }
func (r *recorder) Finished(res *Result)                      { r.finished = res }

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func fastReadiness() Option {
	return WithReadiness(2*time.Second, time.Millisecond)
}

// declared returns the non-relationship attributes of a collection.
func declared(attrs []target.AttributeInfo) []target.AttributeInfo {
	var out []target.AttributeInfo
	for _, a := range attrs {
		if a.Type != "relationship" {
			out = append(out, a)
		}
	}
	return out
}

func mustParse(t *testing.T, doc string) *schema.Declaration {
	t.Helper()
	d, err := schema.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

func TestRun_EmptyDatabase(t *testing.T) {
	op := target.NewMemoryOperator()
	rec := &recorder{}
	res, err := New(op, schema.Default(), WithReporter(rec), fastReadiness()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.DatabaseCreated {
		t.Error("database should be created")
	}
	if got := len(op.Collections(dbID)); got != 4 {
		t.Errorf("collections = %d, want 4", got)
	}
	want := map[string]int{"patients": 10, "doctors": 6, "appointments": 2, "prescriptions": 8}
	for id, n := range want {
		if got := len(declared(op.Attributes(dbID, id))); got != n {
			t.Errorf("%s attributes = %d, want %d", id, got, n)
		}
	}
	if got := len(op.Relationships(dbID)); got != 8 {
		t.Errorf("relationships = %d, want 8", got)
	}
	if got := res.CreatedCount(); got != 1+4+26+8 {
		t.Errorf("CreatedCount = %d, want %d", got, 1+4+26+8)
	}
	if rec.finished != res {
		t.Error("reporter did not receive the result")
	}
	if rec.failed != nil {
		t.Errorf("unexpected failure report: %v", rec.failed)
	}
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	op := target.NewMemoryOperator()
	decl := schema.Default()

	if _, err := New(op, decl, fastReadiness()).Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := make(map[string][]target.AttributeInfo)
	for _, id := range op.Collections(dbID) {
		before[id] = op.Attributes(dbID, id)
	}
	op.Calls = nil

	rec := &recorder{}
	res, err := New(op, decl, WithReporter(rec), fastReadiness()).Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.CreatedCount() != 0 {
		t.Errorf("second run created %d entities", res.CreatedCount())
	}
	for _, call := range op.Calls {
		if !strings.HasPrefix(call, "CreateRelationship ") {
			t.Errorf("unexpected mutating call on second run: %s", call)
		}
	}
	for id, attrs := range before {
		if after := op.Attributes(dbID, id); !reflect.DeepEqual(attrs, after) {
			t.Errorf("%s attributes changed:\n before %+v\n after  %+v", id, attrs, after)
		}
	}
	if got := len(op.Relationships(dbID)); got != 8 {
		t.Errorf("relationships = %d, want 8", got)
	}
	if got := rec.count("created"); got != 0 {
		t.Errorf("created events = %d, want 0", got)
	}
}

func TestRun_PreservesExistingAttributes(t *testing.T) {
	op := target.NewMemoryOperator()
	op.SeedCollection(dbID, "patients", "Patients",
		target.AttributeInfo{Key: "full_name", Type: "string", Size: 50},
		target.AttributeInfo{Key: "notes", Type: "string", Size: 4000},
	)
	original := op.Attributes(dbID, "patients")

	res, err := New(op, schema.Default(), fastReadiness()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	attrs := op.Attributes(dbID, "patients")
	if !reflect.DeepEqual(attrs[:2], original) {
		t.Errorf("pre-existing attributes modified: %+v", attrs[:2])
	}
	if got := len(declared(attrs)); got != 11 {
		t.Errorf("patients attributes = %d, want 10 declared + notes", got)
	}
	for _, call := range op.Calls {
		if call == "CreateStringAttribute patients.full_name" || call == "CreateCollection patients" {
			t.Errorf("unexpected call %s", call)
		}
	}

	var patients CollectionResult
	for _, c := range res.Collections {
		if c.ID == "patients" {
			patients = c
		}
	}
	if patients.Created || len(patients.AttributesCreated) != 9 || !reflect.DeepEqual(patients.AttributesExisting, []string{"full_name"}) {
		t.Errorf("patients result = %+v", patients)
	}
}

func TestRun_UnsupportedKindSkipped(t *testing.T) {
	decl := mustParse(t, `
version: 1
database: {id: clinic, name: Clinic}
collections:
  - id: sites
    name: Sites
    attributes:
      - {name: label, kind: text}
      - {name: location, kind: geo}
      - {name: opened, kind: datetimez}
      - {name: beds, kind: integer, min: 0}
`)
	op := target.NewMemoryOperator()
	rec := &recorder{}
	res, err := New(op, decl, WithReporter(rec), fastReadiness()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var keys []string
	for _, a := range op.Attributes("clinic", "sites") {
		keys = append(keys, a.Key)
	}
	if strings.Join(keys, ",") != "label,beds" {
		t.Errorf("created keys = %v, want label,beds", keys)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[1], `did you mean "timestamp"`) {
		t.Errorf("warning = %q, want a suggestion", res.Warnings[1])
	}
	if got := res.Collections[0].AttributesSkipped; !reflect.DeepEqual(got, []string{"location", "opened"}) {
		t.Errorf("skipped = %v", got)
	}
	if rec.count("warn sites.location") != 1 {
		t.Errorf("missing warning event: %v", rec.events)
	}
}

func TestRun_TypedCreateCalls(t *testing.T) {
	op := target.NewMemoryOperator()
	if _, err := New(op, schema.Default(), fastReadiness()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	byKey := func(coll string) map[string]target.AttributeInfo {
		m := map[string]target.AttributeInfo{}
		for _, a := range op.Attributes(dbID, coll) {
			m[a.Key] = a
		}
		return m
	}
	patients := byKey("patients")
	tests := []struct {
		name string
		got  target.AttributeInfo
		want target.AttributeInfo
	}{
		{"text", patients["full_name"], target.AttributeInfo{Key: "full_name", Type: "string", Status: "available", Required: true, Size: 255}},
		{"text array", patients["allergies"], target.AttributeInfo{Key: "allergies", Type: "string", Status: "available", Array: true, Size: 255}},
		{"timestamp", patients["dob"], target.AttributeInfo{Key: "dob", Type: "datetime", Status: "available", Required: true}},
		{"integer", patients["contact_number"], target.AttributeInfo{Key: "contact_number", Type: "integer", Status: "available", Required: true}},
		{"email", patients["email"], target.AttributeInfo{Key: "email", Type: "email", Status: "available", Required: true}},
		{"enum", byKey("appointments")["status"], target.AttributeInfo{Key: "status", Type: "enum", Status: "available", Required: true,
			Elements: []string{"Scheduled", "Completed", "Cancelled"}}},
		{"boolean default", byKey("prescriptions")["is_signed"], target.AttributeInfo{Key: "is_signed", Type: "boolean", Status: "available", Default: false}},
		{"text default size", byKey("prescriptions")["signed_by"], target.AttributeInfo{Key: "signed_by", Type: "string", Status: "available", Size: 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("got  %+v\nwant %+v", tt.got, tt.want)
			}
		})
	}
}

func TestRun_WaitsForAsyncAttributes(t *testing.T) {
	op := target.NewMemoryOperator()
	op.PendingPolls = 3
	rec := &recorder{}

	if _, err := New(op, schema.Default(), WithReporter(rec), fastReadiness()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.waits == 0 {
		t.Error("expected at least one waiting report")
	}
	for _, id := range op.Collections(dbID) {
		for _, a := range declared(op.Attributes(dbID, id)) {
			if a.Status != target.StatusAvailable {
				t.Errorf("%s.%s status = %s", id, a.Key, a.Status)
			}
		}
	}

	// Relationships are only created once the readiness step is over.
	waitIdx, relIdx := -1, -1
	for i, e := range rec.events {
		if strings.HasPrefix(e, "start "+string(StepReadiness)) && waitIdx < 0 {
			waitIdx = i
		}
		if strings.HasPrefix(e, "start "+string(StepRelationships)) && relIdx < 0 {
			relIdx = i
		}
	}
	if waitIdx < 0 || relIdx < waitIdx {
		t.Errorf("readiness at %d, relationships at %d", waitIdx, relIdx)
	}
}

func TestRun_FailedAttributeAborts(t *testing.T) {
	op := target.NewMemoryOperator()
	op.PendingPolls = 1
	op.FailAttributes = map[string]bool{"doctors.email": true}
	rec := &recorder{}

	_, err := New(op, schema.Default(), WithReporter(rec), fastReadiness()).Run(context.Background())
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *StepError", err)
	}
	if se.Step != StepReadiness || se.Subject != "doctors.email" {
		t.Errorf("StepError = %+v", se)
	}
	if !strings.Contains(err.Error(), "failed") {
		t.Errorf("error = %q", err)
	}
	if got := len(op.Relationships(dbID)); got != 0 {
		t.Errorf("relationships created after failure: %d", got)
	}
	if rec.failed != se {
		t.Error("reporter did not receive the failure")
	}
}

func TestRun_ReadinessTimeout(t *testing.T) {
	op := target.NewMemoryOperator()
	op.PendingPolls = 1 << 20

	_, err := New(op, schema.Default(), WithReadiness(20*time.Millisecond, 5*time.Millisecond)).Run(context.Background())
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepReadiness {
		t.Fatalf("got %v, want readiness StepError", err)
	}
	if !strings.Contains(err.Error(), "timed out") || !strings.Contains(err.Error(), "patients.full_name") {
		t.Errorf("error = %q", err)
	}
}

func TestRun_ContextCancelledWhileWaiting(t *testing.T) {
	op := target.NewMemoryOperator()
	op.PendingPolls = 1 << 20
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(op, schema.Default(), WithReadiness(time.Minute, 5*time.Millisecond)).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context deadline", err)
	}
}

func TestRun_FatalErrors(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name        string
		errors      map[string]error
		wantStep    Step
		wantSubject string
		wantColls   int
	}{
		{"database lookup", map[string]error{"GetDatabase": boom}, StepDatabase, dbID, 0},
		{"database create", map[string]error{"CreateDatabase": boom}, StepDatabase, dbID, 0},
		{"collection lookup", map[string]error{"GetCollection:doctors": boom}, StepCollection, "doctors", 1},
		{"collection create", map[string]error{"CreateCollection:appointments": boom}, StepCollection, "appointments", 2},
		{"attribute list", map[string]error{"ListAttributes:patients": boom}, StepAttributes, "patients", 1},
		{"attribute create", map[string]error{"CreateEmailAttribute:doctors.email": boom}, StepAttributes, "doctors.email", 2},
		{"relationship", map[string]error{"CreateRelationship:appointments.doctor": boom}, StepRelationships, "appointments.doctor", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := target.NewMemoryOperator()
			op.Errors = tt.errors

			res, err := New(op, schema.Default(), fastReadiness()).Run(context.Background())
			if !errors.Is(err, boom) {
				t.Fatalf("got %v, want wrapped %v", err, boom)
			}
			var se *StepError
			if !errors.As(err, &se) || se.Step != tt.wantStep || se.Subject != tt.wantSubject {
				t.Errorf("StepError = %+v, want %s %s", se, tt.wantStep, tt.wantSubject)
			}
			if got := len(op.Collections(dbID)); got != tt.wantColls {
				t.Errorf("collections = %d, want %d", got, tt.wantColls)
			}
			if res == nil || res.Error == "" {
				t.Errorf("result should carry the error: %+v", res)
			}
		})
	}
}

func TestRun_RelationshipAbortStopsRemaining(t *testing.T) {
	op := target.NewMemoryOperator()
	op.Errors = map[string]error{"CreateRelationship:appointments.doctor": errors.New("boom")}

	res, err := New(op, schema.Default(), fastReadiness()).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := len(op.Relationships(dbID)); got != 2 {
		t.Errorf("relationships = %d, want the 2 declared before the failure", got)
	}
	if got := len(res.Relationships); got != 2 {
		t.Errorf("result relationships = %d, want 2", got)
	}
}

func TestRun_RelationshipConflictIsSuccess(t *testing.T) {
	op := target.NewMemoryOperator()
	op.Errors = map[string]error{
		"CreateRelationship:patients.patient_appointments": fmt.Errorf("409: %w", target.ErrConflict),
	}
	res, err := New(op, schema.Default(), fastReadiness()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Relationships[0].Created {
		t.Error("conflicting relationship reported as created")
	}
	if got := len(res.Relationships); got != 8 {
		t.Errorf("relationships = %d, want 8", got)
	}
}

func TestRun_CollectionPermissions(t *testing.T) {
	op := target.NewMemoryOperator()
	op.SeedCollection(dbID, "doctors", "Doctors")

	if _, err := New(op, schema.Default(), fastReadiness()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx := context.Background()
	patients, _ := op.GetCollection(ctx, dbID, "patients")
	if !reflect.DeepEqual(patients.Permissions, schema.DefaultPermissions()) {
		t.Errorf("patients permissions = %v", patients.Permissions)
	}
	doctors, _ := op.GetCollection(ctx, dbID, "doctors")
	if len(doctors.Permissions) != 0 {
		t.Errorf("existing collection permissions changed: %v", doctors.Permissions)
	}
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	op := target.NewMemoryOperator()
	p := New(op, schema.Default(), fastReadiness())

	plan, err := p.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.CreateDatabase || plan.Changes() != 1+4+26+8 {
		t.Errorf("empty plan: create db %v, changes %d", plan.CreateDatabase, plan.Changes())
	}
	if len(op.Calls) != 0 {
		t.Errorf("Plan made mutating calls: %v", op.Calls)
	}

	if _, err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	plan, err = p.Plan(ctx)
	if err != nil {
		t.Fatalf("Plan after run: %v", err)
	}
	if plan.Changes() != 0 {
		t.Errorf("plan after run has %d changes: %+v", plan.Changes(), plan)
	}
}

func TestPlan_PartialState(t *testing.T) {
	op := target.NewMemoryOperator()
	op.SeedCollection(dbID, "patients", "Patients",
		target.AttributeInfo{Key: "full_name"},
		target.AttributeInfo{Key: "patient_appointments", Type: "relationship"},
	)
	plan, err := New(op, schema.Default()).Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.CreateDatabase {
		t.Error("database exists")
	}
	p := plan.Collections[0]
	if p.ID != "patients" || p.Create || len(p.MissingAttributes) != 9 {
		t.Errorf("patients plan = %+v", p)
	}
	if !plan.Collections[1].Create {
		t.Error("doctors should be created")
	}
	if plan.Relationships[0].Create {
		t.Error("patients.patient_appointments already exists")
	}
	if !plan.Relationships[1].Create {
		t.Error("appointments.patient should be created")
	}
}

func TestRun_SQLite(t *testing.T) {
	ctx := context.Background()
	op, err := target.NewSQLiteOperator(ctx, filepath.Join(t.TempDir(), "docpilot.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteOperator: %v", err)
	}
	defer op.Close(ctx)

	decl := schema.Default()
	first, err := New(op, decl, fastReadiness()).Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.CreatedCount() != 1+4+26+8 {
		t.Errorf("first run created %d", first.CreatedCount())
	}

	second, err := New(op, decl, fastReadiness()).Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.CreatedCount() != 0 {
		t.Errorf("second run created %d", second.CreatedCount())
	}

	attrs, err := op.ListAttributes(ctx, dbID, "appointments")
	if err != nil {
		t.Fatalf("ListAttributes: %v", err)
	}
	var keys []string
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	if got := strings.Join(keys, ","); got != "appointment_date,status,patient,doctor" {
		t.Errorf("appointments keys = %s", got)
	}
}
