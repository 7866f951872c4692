package projections_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/go-test/deep"
)

func TestFieldInjector(t *testing.T) {
	type Source struct {
		Username  string
		Count     int16
		CreatedAt time.Time
		internal  string
	}
	type Target struct {
		Username  string
		Count     int64
		CreatedAt time.Time
		Untouched string
	}

	createdAt := time.Date(2023, 10, 18, 13, 47, 15, 0, time.UTC)
	source := &Source{Username: "test", Count: 2, CreatedAt: createdAt, internal: "x"}
	target := &Target{Untouched: "keep"}

	if err := projections.FieldInjector().Inject(source, target); err != nil {
		t.Fatal(err)
	}

	expected := &Target{Username: "test", Count: 2, CreatedAt: createdAt, Untouched: "keep"}
	if diff := deep.Equal(expected, target); diff != nil {
		t.Fatalf("unexpected target:\n%v\n", strings.Join(diff, "\n"))
	}
}

func TestFieldInjectorReplacesCollections(t *testing.T) {
	type Profile struct{ Theme string }
	type Source struct {
		Tags    []string
		Labels  map[string]string
		Profile *Profile
		Aliases []string
	}
	type Target struct {
		Tags    []string
		Labels  map[string]string
		Profile *Profile
		Aliases []string
	}

	target := &Target{
		Tags:    []string{"x", "y", "z"},
		Labels:  map[string]string{"old": "1", "shared": "old"},
		Profile: &Profile{Theme: "dark"},
		Aliases: []string{"stale"},
	}
	source := Source{
		Tags:   []string{"a"},
		Labels: map[string]string{"shared": "new"},
	}

	if err := projections.FieldInjector().Inject(source, target); err != nil {
		t.Fatal(err)
	}

	expected := &Target{
		Tags:   []string{"a"},
		Labels: map[string]string{"shared": "new"},
	}
	if diff := deep.Equal(expected, target); diff != nil {
		t.Fatalf("unexpected target:\n%v\n", strings.Join(diff, "\n"))
	}
}

func TestFieldInjectorRejectsLossyConversion(t *testing.T) {
	type Target struct {
		Small    int32
		Unsigned uint8
		Whole    int64
	}

	tests := []struct {
		name   string
		source any
	}{
		{"overflowing int", struct{ Small int64 }{Small: 1 << 40}},
		{"negative into unsigned", struct{ Unsigned int }{Unsigned: -1}},
		{"overflowing unsigned", struct{ Unsigned uint16 }{Unsigned: 300}},
		{"fractional float", struct{ Whole float64 }{Whole: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &Target{Small: 7, Unsigned: 7, Whole: 7}
			err := projections.FieldInjector().Inject(tt.source, target)
			if !errors.Is(err, projections.ErrLossyConversion) {
				t.Fatalf("expected ErrLossyConversion, got: %v", err)
			}
		})
	}

	target := &Target{}
	source := struct {
		Small    int8
		Unsigned uint
		Whole    float32
	}{Small: -5, Unsigned: 255, Whole: 3}
	if err := projections.FieldInjector().Inject(source, target); err != nil {
		t.Fatal(err)
	}

	expected := &Target{Small: -5, Unsigned: 255, Whole: 3}
	if diff := deep.Equal(expected, target); diff != nil {
		t.Fatalf("unexpected target:\n%v\n", strings.Join(diff, "\n"))
	}
}

func TestFieldInjectorRejectsNonStruct(t *testing.T) {
	var target struct{ Value int }

	if err := projections.FieldInjector().Inject(42, &target); err == nil {
		t.Fatal("expected an error when injecting from a non-struct source")
	}
}

func TestFilters(t *testing.T) {
	filters := projections.Filters{
		projections.Filter("Username", "test"),
		projections.Filter("Version", uint64(2)),
	}

	if err := filters.Validate(); err != nil {
		t.Fatal(err)
	}

	if v, ok := filters.Get("Version"); !ok || v != uint64(2) {
		t.Fatalf("unexpected Version filter: %v %v", v, ok)
	}

	if _, ok := filters.Get("Email"); ok {
		t.Fatal("unexpected Email filter")
	}

	if diff := deep.Equal([]string{"Username", "Version"}, filters.Fields()); diff != nil {
		t.Fatalf("unexpected fields:\n%v\n", strings.Join(diff, "\n"))
	}

	if s := filters.String(); s != "[Username=test Version=2]" {
		t.Fatalf("unexpected string form: %s", s)
	}

	filters = append(filters, projections.Filter("Username", "other"))
	if err := filters.Validate(); !errors.Is(err, projections.ErrDuplicateFilterField) {
		t.Fatalf("expected ErrDuplicateFilterField, got %v", err)
	}
}
