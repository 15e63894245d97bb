package events

import (
	"context"
	"fmt"
	"time"
)

// Source is the read side of the ledger consumed by the Aggregator.
type Source interface {
	LatestTimestamp(ctx context.Context, t Type) (time.Time, error)
	ListRange(ctx context.Context, types []Type, from, to time.Time) ([]Event, error)
}

// Aggregator derives daily running-total series from the event ledger.
type Aggregator struct {
	source Source
}

// NewAggregator creates an Aggregator reading from the given source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Series builds a zero-filled daily series over the windowDays days ending at
// the latest recorded timestamp of the created type. Anchoring the window on
// recorded data rather than the wall clock keeps historical or seeded ledgers
// aggregating correctly long after the fact. Each event is bucketed by the
// calendar day of its own timestamp, and the running total satisfies
// total[d] = total[d-1] + created[d] - deleted[d], seeded from zero at the
// window start. Returns an empty series when no created events exist.
func (a *Aggregator) Series(ctx context.Context, created, deleted Type, windowDays int) ([]DayStat, error) {
	if windowDays < 1 {
		return nil, fmt.Errorf("window must be at least one day, got %d", windowDays)
	}

	latest, err := a.source.LatestTimestamp(ctx, created)
	if err != nil {
		return nil, err
	}
	if latest.IsZero() {
		return []DayStat{}, nil
	}

	end := dayOf(latest)
	start := end.AddDate(0, 0, -(windowDays - 1))

	evs, err := a.source.ListRange(ctx, []Type{created, deleted}, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	series := make([]DayStat, windowDays)
	index := make(map[time.Time]int, windowDays)
	for i := range series {
		d := start.AddDate(0, 0, i)
		series[i].Date = d
		index[d] = i
	}

	for _, ev := range evs {
		i, ok := index[dayOf(ev.Timestamp)]
		if !ok {
			continue
		}
		switch ev.Type {
		case created:
			series[i].Created++
		case deleted:
			series[i].Deleted++
		}
	}

	running := 0
	for i := range series {
		running += series[i].Created - series[i].Deleted
		series[i].Total = running
	}
	return series, nil
}

// dayOf truncates a timestamp to its UTC calendar day.
func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
