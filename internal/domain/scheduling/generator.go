package scheduling

import (
	"fmt"
	"iter"
	"time"
)

// GenerateRequest describes one (practitioner, room) slot enumeration.
// WindowStart and WindowEnd are calendar days, both inclusive.
type GenerateRequest struct {
	Practitioner Practitioner
	Room         Room
	WindowStart  time.Time
	WindowEnd    time.Time
	Duration     time.Duration
	// Booked holds the live reservations of both resources; nil means none.
	Booked       *IntervalIndex
	ExcludedDays []time.Weekday
	// NotBefore skips candidates starting earlier than this instant.
	NotBefore time.Time
}

// SlotGenerator enumerates fixed-granularity candidate slots inside working hours.
type SlotGenerator struct {
	cfg Config
}

func NewSlotGenerator(cfg Config) *SlotGenerator {
	return &SlotGenerator{cfg: cfg.withDefaults()}
}

// Generate yields every candidate of the request in start order. Each slot is
// marked Available only when neither resource has an overlapping booking.
// An inverted window or a duration longer than the working day yields nothing.
func (g *SlotGenerator) Generate(req GenerateRequest) iter.Seq[CandidateSlot] {
	return func(yield func(CandidateSlot) bool) {
		if req.Duration <= 0 {
			return
		}
		first, last := g.cfg.dayOf(req.WindowStart), g.cfg.dayOf(req.WindowEnd)
		if first.After(last) {
			return
		}
		hours := g.cfg.hoursFor(req.Practitioner)
		if req.Duration > hours.Span() {
			return
		}

		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			wd := day.Weekday()
			if !hours.IsWorkingDay(wd) || containsWeekday(req.ExcludedDays, wd) {
				continue
			}
			window := hours.Window(day)
			for start := window.Start; !start.Add(req.Duration).After(window.End); start = start.Add(g.cfg.Step) {
				if !req.NotBefore.IsZero() && start.Before(req.NotBefore) {
					continue
				}
				iv := TimeInterval{Start: start, End: start.Add(req.Duration)}
				if !yield(g.candidate(req, iv)) {
					return
				}
			}
		}
	}
}

func (g *SlotGenerator) candidate(req GenerateRequest, iv TimeInterval) CandidateSlot {
	slot := CandidateSlot{
		Interval:       iv,
		PractitionerID: req.Practitioner.ID,
		RoomID:         req.Room.ID,
		Available:      true,
	}
	if req.Booked == nil {
		return slot
	}
	for _, b := range req.Booked.Conflicting(req.Practitioner.ID, iv) {
		slot.ConflictReasons = append(slot.ConflictReasons, fmt.Sprintf(
			"practitioner busy %s-%s (appointment %s)",
			b.Interval.Start.Format(time.Kitchen), b.Interval.End.Format(time.Kitchen), b.AppointmentID))
	}
	for _, b := range req.Booked.Conflicting(req.Room.ID, iv) {
		slot.ConflictReasons = append(slot.ConflictReasons, fmt.Sprintf(
			"room busy %s-%s (appointment %s)",
			b.Interval.Start.Format(time.Kitchen), b.Interval.End.Format(time.Kitchen), b.AppointmentID))
	}
	slot.Available = len(slot.ConflictReasons) == 0
	return slot
}
