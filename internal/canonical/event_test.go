package canonical

import (
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		EventID:    "e1",
		Identifier: "2105.01224",
		Version:    1,
		Type:       EventNew,
		Timestamp:  time.Date(2021, 5, 6, 9, 0, 0, 0, time.UTC),
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Event) {}},
		{name: "unknown type", mutate: func(e *Event) { e.Type = "renamed" }, wantErr: true},
		{name: "bad identifier", mutate: func(e *Event) { e.Identifier = "not-an-id" }, wantErr: true},
		{name: "version zero", mutate: func(e *Event) { e.Version = 0 }, wantErr: true},
		{name: "zero timestamp", mutate: func(e *Event) { e.Timestamp = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestEvent_DedupKey(t *testing.T) {
	e := validEvent()
	if got, want := e.DedupKey(), "2105.01224/new/e1"; got != want {
		t.Errorf("DedupKey() = %q, want %q", got, want)
	}
}

func TestEvent_Equal(t *testing.T) {
	base := validEvent()
	base.Categories = []string{"astro-ph.GA", "hep-th"}

	same := base
	same.Categories = []string{"astro-ph.GA", "hep-th"}
	if !base.Equal(same) {
		t.Error("field-identical events must be equal")
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{name: "different event id", mutate: func(e *Event) { e.EventID = "e2" }},
		{name: "different version", mutate: func(e *Event) { e.Version = 2 }},
		{name: "different type", mutate: func(e *Event) { e.Type = EventReplaced }},
		{name: "different timestamp", mutate: func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Second) }},
		{name: "different description", mutate: func(e *Event) { e.Description = "changed" }},
		{name: "reordered categories", mutate: func(e *Event) { e.Categories = []string{"hep-th", "astro-ph.GA"} }},
		{name: "dropped category", mutate: func(e *Event) { e.Categories = []string{"astro-ph.GA"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			other.Categories = append([]string(nil), base.Categories...)
			tt.mutate(&other)
			if base.Equal(other) {
				t.Error("Equal() = true for differing events")
			}
		})
	}
}

func TestEvent_EqualTimestampRepresentation(t *testing.T) {
	// The same instant in different zones is still the same event.
	a := validEvent()
	b := validEvent()
	b.Timestamp = a.Timestamp.In(time.FixedZone("CEST", 2*3600))
	if !a.Equal(b) {
		t.Error("events with the same instant in different zones must be equal")
	}
}

func TestEvent_VersionedIdentifier(t *testing.T) {
	e := validEvent()
	e.Version = 3

	vid, err := e.VersionedIdentifier()
	if err != nil {
		t.Fatalf("VersionedIdentifier() error = %v", err)
	}
	if got, want := vid.String(), "2105.01224v3"; got != want {
		t.Errorf("VersionedIdentifier() = %q, want %q", got, want)
	}
}
