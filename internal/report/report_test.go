package report

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/docpilot/docpilot/internal/provision"
)

func sampleResult() *provision.Result {
	return &provision.Result{
		DatabaseID:      "dbDocpilot",
		DatabaseCreated: true,
		Collections: []provision.CollectionResult{
			{ID: "patients", Created: true, AttributesCreated: []string{"full_name", "dob"}},
			{ID: "sites", AttributesCreated: []string{"label"}, AttributesExisting: []string{"beds"}, AttributesSkipped: []string{"location"}},
		},
		Relationships: []provision.RelationshipResult{
			{Collection: "appointments", Key: "patient", RelatedCollection: "patients", Created: true},
			{Collection: "appointments", Key: "doctor", RelatedCollection: "doctors"},
		},
		Warnings:  []string{`sites.location: unsupported attribute kind "geo"`},
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "setup.json")
	s := NewSummary("appwrite", sampleResult(), nil, nil)

	if err := WriteJSON(s, path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	loaded, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if loaded.Version != "1" || loaded.Backend != "appwrite" || !loaded.Success || loaded.DryRun {
		t.Errorf("summary header = %+v", loaded)
	}
	if loaded.Result == nil || loaded.Result.CreatedCount() != 6 {
		t.Errorf("result = %+v", loaded.Result)
	}
	if loaded.Result.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %s", loaded.Result.Duration)
	}
}

func TestNewSummary_Failure(t *testing.T) {
	s := NewSummary("sqlite", nil, &provision.Plan{}, errors.New("boom"))
	if s.Success || !s.DryRun {
		t.Errorf("summary = %+v", s)
	}
}

func TestReadJSON_Missing(t *testing.T) {
	if _, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error")
	}
}

func TestFormatText(t *testing.T) {
	out := FormatText(sampleResult())
	for _, want := range []string{
		"Database dbDocpilot: created",
		"patients         created, 2 attributes created, 0 existing",
		"sites            existing, 1 attributes created, 1 existing, 1 skipped",
		"Relationships: 1 created, 1 existing",
		`- sites.location: unsupported attribute kind "geo"`,
		"Done in 1.5s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatPlan(t *testing.T) {
	pl := &provision.Plan{
		DatabaseID: "dbDocpilot",
		Collections: []provision.CollectionPlan{
			{ID: "patients", MissingAttributes: []string{"insurance_id"}},
			{ID: "sites", Create: true, MissingAttributes: []string{"label"}, Skipped: []string{"location"}},
		},
		Relationships: []provision.RelationshipPlan{
			{Collection: "appointments", Key: "patient", RelatedCollection: "patients", Create: true},
			{Collection: "appointments", Key: "doctor", RelatedCollection: "doctors"},
		},
	}
	out := FormatPlan(pl)
	for _, want := range []string{
		"+ attribute patients.insurance_id",
		"+ collection sites",
		"! attribute sites.location (unsupported kind)",
		"+ relationship appointments.patient -> patients",
		"4 changes planned.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "appointments.doctor") {
		t.Error("existing relationship listed as a change")
	}

	empty := FormatPlan(&provision.Plan{DatabaseID: "db"})
	if !strings.Contains(empty, "Nothing to do") {
		t.Errorf("empty plan = %q", empty)
	}
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)

	c.StepStarted(provision.StepCollection, "patients")
	c.Created(provision.StepCollection, "patients")
	c.StepStarted(provision.StepCollection, "doctors")
	c.Existing(provision.StepCollection, "doctors")
	c.Warning("sites.location", "unsupported attribute kind")
	c.Waiting([]string{"a", "b"}, time.Second)
	c.Waiting([]string{"a", "b"}, 2*time.Second)
	c.Failed(&provision.StepError{Step: provision.StepRelationships, Subject: "appointments.doctor", Err: errors.New("boom")})

	out := ansi.ReplaceAllString(buf.String(), "")
	if strings.Count(out, "Ensure collection") != 1 {
		t.Errorf("step header should print once:\n%s", out)
	}
	if !strings.Contains(out, "+ patients") {
		t.Errorf("missing created line:\n%s", out)
	}
	if strings.Contains(out, "doctors (exists)") {
		t.Errorf("existing entity shown without verbose:\n%s", out)
	}
	if !strings.Contains(out, "! sites.location: unsupported attribute kind") {
		t.Errorf("missing warning:\n%s", out)
	}
	if strings.Count(out, "waiting for 2 attributes") != 1 {
		t.Errorf("waiting line should print once per change:\n%s", out)
	}
	if !strings.Contains(out, "ensure relationships appointments.doctor: boom") {
		t.Errorf("missing failure:\n%s", out)
	}

	buf.Reset()
	v := NewConsole(&buf, true)
	v.Existing(provision.StepCollection, "doctors")
	if !strings.Contains(ansi.ReplaceAllString(buf.String(), ""), "= doctors (exists)") {
		t.Errorf("verbose output = %q", buf.String())
	}
}

type countingReporter struct {
	provision.NopReporter
	created int
}

func (c *countingReporter) Created(provision.Step, string) { c.created++ }

func TestMultiAndLog(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	counter := &countingReporter{}
	m := Multi{NewLog(logger), counter}

	m.Created(provision.StepAttributes, "patients.full_name")
	m.Warning("sites.location", "unsupported attribute kind")
	m.Finished(sampleResult())

	if counter.created != 1 {
		t.Errorf("counter = %d", counter.created)
	}
	logs := logBuf.String()
	for _, want := range []string{
		`msg=created step="ensure attributes" subject=patients.full_name`,
		`level=WARN msg="unsupported attribute kind" subject=sites.location`,
		`msg="run finished" database=dbDocpilot created=6`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q:\n%s", want, logs)
		}
	}
}

func TestHighlightYAML(t *testing.T) {
	src := "version: 1\n# declared collections\ncollections:\n  - id: patients\n    required: true\n"
	out := HighlightYAML(src)
	if got := ansi.ReplaceAllString(out, ""); got != src {
		t.Errorf("highlighting changed the text:\n%q\n%q", got, src)
	}
}
