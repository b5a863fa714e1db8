package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimeInterval is a half-open [Start, End) range.
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeInterval returns a validated interval.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	iv := TimeInterval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return TimeInterval{}, err
	}
	return iv, nil
}

// Validate reports ErrInvalidRequest unless Start < End.
func (iv TimeInterval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidRequest)
	}
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidRequest)
	}
	return nil
}

func (iv TimeInterval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Overlaps uses half-open semantics: intervals that only touch do not overlap.
func (iv TimeInterval) Overlaps(other TimeInterval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Contains reports whether other lies entirely inside iv.
func (iv TimeInterval) Contains(other TimeInterval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Overlaps reports whether candidate overlaps any of the existing intervals.
func Overlaps(existing []TimeInterval, candidate TimeInterval) bool {
	for _, iv := range existing {
		if iv.Overlaps(candidate) {
			return true
		}
	}
	return false
}

// BookedInterval is an already-booked interval held by one resource.
type BookedInterval struct {
	Resource      uuid.UUID    `json:"resource"`
	Interval      TimeInterval `json:"interval"`
	AppointmentID uuid.UUID    `json:"appointment_id"`
}

// IntervalIndex answers overlap queries per resource. Intervals are sorted by
// start with a running max end, so a query is a binary search.
type IntervalIndex struct {
	byResource map[uuid.UUID]*resourceIntervals
}

type resourceIntervals struct {
	items  []BookedInterval
	maxEnd []time.Time // maxEnd[i] = max(items[0..i].End)
}

// NewIntervalIndex builds an index over the given booked intervals. The input
// slice is not modified.
func NewIntervalIndex(booked []BookedInterval) *IntervalIndex {
	idx := &IntervalIndex{byResource: make(map[uuid.UUID]*resourceIntervals)}
	for _, b := range booked {
		ri, ok := idx.byResource[b.Resource]
		if !ok {
			ri = &resourceIntervals{}
			idx.byResource[b.Resource] = ri
		}
		ri.items = append(ri.items, b)
	}
	for _, ri := range idx.byResource {
		sort.Slice(ri.items, func(i, j int) bool {
			if ri.items[i].Interval.Start.Equal(ri.items[j].Interval.Start) {
				return ri.items[i].Interval.End.Before(ri.items[j].Interval.End)
			}
			return ri.items[i].Interval.Start.Before(ri.items[j].Interval.Start)
		})
		ri.maxEnd = make([]time.Time, len(ri.items))
		for i, b := range ri.items {
			ri.maxEnd[i] = b.Interval.End
			if i > 0 && ri.maxEnd[i-1].After(b.Interval.End) {
				ri.maxEnd[i] = ri.maxEnd[i-1]
			}
		}
	}
	return idx
}

// Overlaps reports whether resource has any booked interval overlapping candidate.
func (x *IntervalIndex) Overlaps(resource uuid.UUID, candidate TimeInterval) bool {
	ri, ok := x.byResource[resource]
	if !ok {
		return false
	}
	k := ri.startingBefore(candidate.End)
	return k > 0 && ri.maxEnd[k-1].After(candidate.Start)
}

// Conflicting returns the booked intervals of resource that overlap candidate,
// in start order.
func (x *IntervalIndex) Conflicting(resource uuid.UUID, candidate TimeInterval) []BookedInterval {
	ri, ok := x.byResource[resource]
	if !ok {
		return nil
	}
	var out []BookedInterval
	for _, b := range ri.items[:ri.startingBefore(candidate.End)] {
		if b.Interval.End.After(candidate.Start) {
			out = append(out, b)
		}
	}
	return out
}

// startingBefore returns the count of items whose start is before t.
func (ri *resourceIntervals) startingBefore(t time.Time) int {
	return sort.Search(len(ri.items), func(i int) bool {
		return !ri.items[i].Interval.Start.Before(t)
	})
}
