package events

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

// fakeSource serves a fixed set of events from memory.
type fakeSource struct {
	events []Event
}

func (f *fakeSource) LatestTimestamp(_ context.Context, t Type) (time.Time, error) {
	var latest time.Time
	for _, ev := range f.events {
		if ev.Type == t && ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}
	return latest, nil
}

func (f *fakeSource) ListRange(_ context.Context, types []Type, from, to time.Time) ([]Event, error) {
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []Event
	for _, ev := range f.events {
		if want[ev.Type] && !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func at(day int, hour int) time.Time {
	return time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC)
}

func TestSeries_EmptyLedger(t *testing.T) {
	agg := NewAggregator(&fakeSource{})

	series, err := agg.Series(context.Background(), TypeOrganisationCreated, TypeOrganisationDeleted, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 0 {
		t.Fatalf("expected empty series, got %d days", len(series))
	}
}

func TestSeries_InvalidWindow(t *testing.T) {
	agg := NewAggregator(&fakeSource{})
	if _, err := agg.Series(context.Background(), TypeOrganisationCreated, TypeOrganisationDeleted, 0); err == nil {
		t.Fatal("expected error for zero-day window")
	}
}

func TestSeries_RunningTotal(t *testing.T) {
	// Two organisations created 10 days apart, the first later deleted.
	src := &fakeSource{events: []Event{
		{Type: TypeOrganisationCreated, EntityID: "org-1", Timestamp: at(1, 9)},
		{Type: TypeOrganisationCreated, EntityID: "org-2", Timestamp: at(11, 14)},
		{Type: TypeOrganisationDeleted, EntityID: "org-1", Timestamp: at(20, 18)},
	}}
	agg := NewAggregator(src)

	series, err := agg.Series(context.Background(), TypeOrganisationCreated, TypeOrganisationDeleted, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 30 {
		t.Fatalf("expected 30 days, got %d", len(series))
	}

	// Window ends on the latest created-event day, not the wall clock.
	last := series[len(series)-1]
	if !last.Date.Equal(at(11, 0)) {
		t.Errorf("window end = %v, want %v", last.Date, at(11, 0))
	}

	// The deletion on day 20 is outside the window and must not leak in.
	var created, deleted int
	for _, d := range series {
		created += d.Created
		deleted += d.Deleted
	}
	if created != 2 {
		t.Errorf("created sum = %d, want 2", created)
	}
	if deleted != 0 {
		t.Errorf("deleted sum = %d, want 0", deleted)
	}
	if last.Total != 2 {
		t.Errorf("final total = %d, want 2", last.Total)
	}

	// total[d] = total[d-1] + created[d] - deleted[d] for every day.
	for i := 1; i < len(series); i++ {
		want := series[i-1].Total + series[i].Created - series[i].Deleted
		if series[i].Total != want {
			t.Errorf("day %d: total = %d, want %d", i, series[i].Total, want)
		}
	}
	if series[0].Total != series[0].Created-series[0].Deleted {
		t.Errorf("window-start total = %d, want %d", series[0].Total, series[0].Created-series[0].Deleted)
	}
}

func TestSeries_DeletionInsideWindow(t *testing.T) {
	src := &fakeSource{events: []Event{
		{Type: TypeOrganisationCreated, EntityID: "org-1", Timestamp: at(5, 9)},
		{Type: TypeOrganisationCreated, EntityID: "org-2", Timestamp: at(15, 9)},
		{Type: TypeOrganisationDeleted, EntityID: "org-1", Timestamp: at(10, 9)},
	}}
	agg := NewAggregator(src)

	series, err := agg.Series(context.Background(), TypeOrganisationCreated, TypeOrganisationDeleted, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := series[len(series)-1].Total; got != 1 {
		t.Errorf("final total = %d, want exactly one live organisation", got)
	}

	// The series rises on each creation day and dips on the deletion day.
	byDate := make(map[time.Time]DayStat, len(series))
	for _, d := range series {
		byDate[d.Date] = d
	}
	if d := byDate[at(5, 0)]; d.Created != 1 {
		t.Errorf("creation day created = %d, want 1", d.Created)
	}
	if d := byDate[at(10, 0)]; d.Deleted != 1 {
		t.Errorf("deletion day deleted = %d, want 1", d.Deleted)
	}
}

func TestSeries_OrderIndependentWithinDay(t *testing.T) {
	evs := []Event{
		{Type: TypeTeamCreated, EntityID: "t-1", Timestamp: at(3, 8)},
		{Type: TypeTeamCreated, EntityID: "t-2", Timestamp: at(3, 16)},
		{Type: TypeTeamDeleted, EntityID: "t-1", Timestamp: at(3, 12)},
		{Type: TypeTeamCreated, EntityID: "t-3", Timestamp: at(7, 10)},
	}

	reference, err := NewAggregator(&fakeSource{events: evs}).
		Series(context.Background(), TypeTeamCreated, TypeTeamDeleted, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]Event, len(evs))
		copy(shuffled, evs)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got, err := NewAggregator(&fakeSource{events: shuffled}).
			Series(context.Background(), TypeTeamCreated, TypeTeamDeleted, 14)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != len(reference) {
			t.Fatalf("trial %d: length %d, want %d", trial, len(got), len(reference))
		}
		for i := range got {
			if got[i] != reference[i] {
				t.Errorf("trial %d day %d: %+v, want %+v", trial, i, got[i], reference[i])
			}
		}
	}
}

func TestSeries_ZeroFilledDays(t *testing.T) {
	src := &fakeSource{events: []Event{
		{Type: TypeCaseCreated, EntityID: "c-1", Timestamp: at(10, 12)},
	}}
	agg := NewAggregator(src)

	series, err := agg.Series(context.Background(), TypeCaseCreated, TypeCaseDeleted, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 7 {
		t.Fatalf("expected 7 days, got %d", len(series))
	}
	for i, d := range series[:6] {
		if d.Created != 0 || d.Deleted != 0 || d.Total != 0 {
			t.Errorf("day %d should be zero-filled, got %+v", i, d)
		}
	}
	if series[6].Created != 1 || series[6].Total != 1 {
		t.Errorf("last day = %+v, want created=1 total=1", series[6])
	}
}
