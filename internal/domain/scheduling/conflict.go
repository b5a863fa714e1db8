package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Directory resolves practitioners by id for availability checks.
type Directory map[uuid.UUID]Practitioner

func NewDirectory(practitioners []Practitioner) Directory {
	dir := make(Directory, len(practitioners))
	for _, p := range practitioners {
		dir[p.ID] = p
	}
	return dir
}

func (d Directory) practitioner(id uuid.UUID) Practitioner {
	if p, ok := d[id]; ok {
		return p
	}
	return Practitioner{ID: id, Active: true}
}

// ConflictDetector finds double bookings and bookings outside working hours.
type ConflictDetector struct {
	cfg Config
	gen *SlotGenerator
}

func NewConflictDetector(cfg Config) *ConflictDetector {
	cfg = cfg.withDefaults()
	return &ConflictDetector{cfg: cfg, gen: NewSlotGenerator(cfg)}
}

// Detect reports conflicts among the live appointments overlapping rng. A zero
// rng considers every appointment. Appointments outside rng still count as
// bookings when looking for alternatives. Availability conflicts are only
// reported for practitioners present in dir.
func (d *ConflictDetector) Detect(appointments []Appointment, rng TimeInterval, dir Directory) []Conflict {
	all := liveWithin(appointments, TimeInterval{})
	live := all
	if !rng.Start.IsZero() {
		live = liveWithin(all, rng)
	}
	var out []Conflict
	out = append(out, d.sweep(live, all, ConflictPractitionerDoubleBooking, func(a Appointment) uuid.UUID { return a.PractitionerID }, dir)...)
	out = append(out, d.sweep(live, all, ConflictRoomDoubleBooking, func(a Appointment) uuid.UUID { return a.RoomID }, dir)...)
	if len(dir) > 0 {
		out = append(out, d.outsideAvailability(live, all, dir)...)
	}
	sortConflicts(out)
	return out
}

// sweep groups by resource, sorts each group by start and compares every
// appointment with the one holding the furthest end so far.
func (d *ConflictDetector) sweep(live, all []Appointment, kind ConflictKind, key func(Appointment) uuid.UUID, dir Directory) []Conflict {
	groups := make(map[uuid.UUID][]Appointment)
	for _, a := range live {
		if key(a) == uuid.Nil {
			continue
		}
		groups[key(a)] = append(groups[key(a)], a)
	}

	var out []Conflict
	for resource, group := range groups {
		if len(group) < 2 {
			continue
		}
		sortAppointments(group)
		running := group[0]
		for _, next := range group[1:] {
			if running.End.After(next.Start) {
				out = append(out, Conflict{
					Kind:           kind,
					Severity:       doubleBookingSeverity(running, next),
					AppointmentIDs: []uuid.UUID{running.ID, next.ID},
					ResourceID:     resource,
					At:             next.Start,
					AutoResolvable: d.hasAlternative(next, all, dir),
					Description: fmt.Sprintf("%s: appointment %s starts at %s before appointment %s ends at %s",
						kind, next.ID, next.Start.Format(time.RFC3339), running.ID, running.End.Format(time.RFC3339)),
				})
			}
			if next.End.After(running.End) {
				running = next
			}
		}
	}
	return out
}

func (d *ConflictDetector) outsideAvailability(live, all []Appointment, dir Directory) []Conflict {
	var out []Conflict
	for _, a := range live {
		p, ok := dir[a.PractitionerID]
		if !ok {
			continue
		}
		hours := d.cfg.hoursFor(p)
		day := d.cfg.dayOf(a.Start)
		if hours.IsWorkingDay(day.Weekday()) && hours.Window(day).Contains(a.Interval()) {
			continue
		}
		out = append(out, Conflict{
			Kind:           ConflictOutsideAvailability,
			Severity:       SeverityMedium,
			AppointmentIDs: []uuid.UUID{a.ID},
			ResourceID:     a.PractitionerID,
			At:             a.Start,
			AutoResolvable: d.hasAlternative(a, all, dir),
			Description: fmt.Sprintf("appointment %s is outside working hours %s-%s of practitioner %s",
				a.ID, hours.Start, hours.End, a.PractitionerID),
		})
	}
	return out
}

// hasAlternative reports whether a same-duration slot for the appointment's
// practitioner and room is free in the resolve window, ignoring a itself.
func (d *ConflictDetector) hasAlternative(a Appointment, live []Appointment, dir Directory) bool {
	_, ok := d.findAlternative(a, live, dir, nil)
	return ok
}

// findAlternative returns the first (or, with pick, the best) available slot
// for moving a within the resolve window. Candidates never start before a.
func (d *ConflictDetector) findAlternative(a Appointment, live []Appointment, dir Directory, pick func(CandidateSlot) float64) (CandidateSlot, bool) {
	others := make([]BookedInterval, 0, 2*len(live))
	for _, o := range live {
		if o.ID != a.ID {
			others = append(others, o.BookedIntervals()...)
		}
	}
	day := d.cfg.dayOf(a.Start)
	req := GenerateRequest{
		Practitioner: dir.practitioner(a.PractitionerID),
		Room:         Room{ID: a.RoomID, Active: true},
		WindowStart:  day,
		WindowEnd:    day.AddDate(0, 0, d.cfg.ResolveWindowDays),
		Duration:     a.Interval().Duration(),
		Booked:       NewIntervalIndex(others),
		NotBefore:    a.Start,
	}

	var best CandidateSlot
	bestScore, found := 0.0, false
	for slot := range d.gen.Generate(req) {
		if !slot.Available {
			continue
		}
		if pick == nil {
			return slot, true
		}
		if s := pick(slot); !found || s > bestScore {
			best, bestScore, found = slot, s, true
		}
	}
	return best, found
}

func doubleBookingSeverity(a, b Appointment) Severity {
	if a.Priority.IsAcute() || b.Priority.IsAcute() {
		return SeverityCritical
	}
	return SeverityHigh
}

func liveWithin(appointments []Appointment, rng TimeInterval) []Appointment {
	out := make([]Appointment, 0, len(appointments))
	for _, a := range appointments {
		if !a.IsLive() || !a.Start.Before(a.End) {
			continue
		}
		if !rng.Start.IsZero() && !rng.Overlaps(a.Interval()) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func sortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Start.Equal(appts[j].Start) {
			return appts[i].Start.Before(appts[j].Start)
		}
		return appts[i].ID.String() < appts[j].ID.String()
	})
}

func sortConflicts(cs []Conflict) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].At.Equal(cs[j].At) {
			return cs[i].At.Before(cs[j].At)
		}
		if cs[i].Kind != cs[j].Kind {
			return cs[i].Kind < cs[j].Kind
		}
		a, b := cs[i].AppointmentIDs, cs[j].AppointmentIDs
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k].String() < b[k].String()
			}
		}
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return cs[i].ResourceID.String() < cs[j].ResourceID.String()
	})
}
