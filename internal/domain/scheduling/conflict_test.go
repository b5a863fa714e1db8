package scheduling

import (
	"reflect"
	"testing"
	"time"
)

const (
	idFirst  = "00000000-0000-0000-0000-000000000e01"
	idSecond = "00000000-0000-0000-0000-000000000e02"
	idThird  = "00000000-0000-0000-0000-000000000e03"
)

func detect(appts ...Appointment) []Conflict {
	return NewConflictDetector(DefaultConfig()).Detect(appts, TimeInterval{}, nil)
}

func TestDetect_OverlappingPractitioner(t *testing.T) {
	first := appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30))
	second := appt(idSecond, doctorA, room2, monday(10, 15), monday(10, 45))

	conflicts := detect(first, second)
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.Kind != ConflictPractitionerDoubleBooking {
		t.Errorf("expected practitioner double booking, got %s", c.Kind)
	}
	if !c.At.Equal(monday(10, 15)) {
		t.Errorf("expected conflict at 10:15, got %s", c.At.Format(time.Kitchen))
	}
	if len(c.AppointmentIDs) != 2 || c.AppointmentIDs[0] != first.ID || c.AppointmentIDs[1] != second.ID {
		t.Errorf("expected both appointment ids, got %v", c.AppointmentIDs)
	}
	if c.ResourceID != doctorA {
		t.Errorf("expected resource %s, got %s", doctorA, c.ResourceID)
	}
	if c.Severity != SeverityHigh {
		t.Errorf("expected high severity, got %s", c.Severity)
	}
}

func TestDetect_BackToBack(t *testing.T) {
	conflicts := detect(
		appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30)),
		appt(idSecond, doctorA, room1, monday(10, 30), monday(11, 0)),
	)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflict for back-to-back appointments, got %+v", conflicts)
	}
}

func TestDetect_SharedRoom(t *testing.T) {
	conflicts := detect(
		appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30)),
		appt(idSecond, doctorB, room1, monday(10, 15), monday(10, 45)),
	)
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictRoomDoubleBooking {
		t.Fatalf("expected one room double booking, got %+v", conflicts)
	}
	if conflicts[0].ResourceID != room1 {
		t.Errorf("expected resource %s, got %s", room1, conflicts[0].ResourceID)
	}
}

func TestDetect_NonAdjacentOverlap(t *testing.T) {
	// The long first appointment overlaps the third even though the second
	// sits between them.
	conflicts := detect(
		appt(idFirst, doctorA, room1, monday(9, 0), monday(12, 0)),
		appt(idSecond, doctorA, room1, monday(9, 30), monday(10, 0)),
		appt(idThird, doctorA, room1, monday(11, 0), monday(11, 30)),
	)
	practitioner := 0
	for _, c := range conflicts {
		if c.Kind != ConflictPractitionerDoubleBooking {
			continue
		}
		practitioner++
		if c.AppointmentIDs[0].String() != idFirst {
			t.Errorf("expected the long appointment to be reported, got %v", c.AppointmentIDs)
		}
	}
	if practitioner != 2 {
		t.Fatalf("expected 2 practitioner conflicts, got %d", practitioner)
	}
}

func TestDetect_IgnoresInactive(t *testing.T) {
	cancelled := appt(idSecond, doctorA, room1, monday(10, 15), monday(10, 45))
	cancelled.Status = StatusCancelled
	noShow := appt(idThird, doctorA, room1, monday(10, 0), monday(10, 20))
	noShow.Status = StatusNoShow

	if conflicts := detect(appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30)), cancelled, noShow); len(conflicts) != 0 {
		t.Fatalf("expected inactive appointments to be ignored, got %+v", conflicts)
	}
}

func TestDetect_CriticalWhenAcute(t *testing.T) {
	urgent := appt(idSecond, doctorA, room2, monday(10, 15), monday(10, 45))
	urgent.Priority = PriorityEmergency

	conflicts := detect(appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30)), urgent)
	if len(conflicts) != 1 || conflicts[0].Severity != SeverityCritical {
		t.Fatalf("expected one critical conflict, got %+v", conflicts)
	}
}

func TestDetect_OutsideAvailability(t *testing.T) {
	dir := NewDirectory([]Practitioner{{ID: doctorA, Active: true}})
	late := appt(idFirst, doctorA, room1, monday(17, 45), monday(18, 15))

	conflicts := NewConflictDetector(DefaultConfig()).Detect([]Appointment{late}, TimeInterval{}, dir)
	if len(conflicts) != 1 || conflicts[0].Kind != ConflictOutsideAvailability {
		t.Fatalf("expected one outside-availability conflict, got %+v", conflicts)
	}
	if conflicts[0].Severity != SeverityMedium {
		t.Errorf("expected medium severity, got %s", conflicts[0].Severity)
	}

	// Without a directory the check is skipped.
	if conflicts := detect(late); len(conflicts) != 0 {
		t.Errorf("expected no availability check without a directory, got %+v", conflicts)
	}
}

func TestDetect_RangeFilter(t *testing.T) {
	tuesday := func(h, m int) time.Time { return monday(h, m).AddDate(0, 0, 1) }
	appts := []Appointment{
		appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30)),
		appt(idSecond, doctorA, room2, monday(10, 15), monday(10, 45)),
		appt(idThird, doctorA, room1, tuesday(9, 0), tuesday(9, 30)),
	}
	rng := TimeInterval{Start: tuesday(0, 0), End: tuesday(0, 0).AddDate(0, 0, 1)}
	if conflicts := NewConflictDetector(DefaultConfig()).Detect(appts, rng, nil); len(conflicts) != 0 {
		t.Fatalf("expected Monday conflicts to be outside the range, got %+v", conflicts)
	}
}

func TestDetect_AutoResolvable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolveWindowDays = 1
	first := appt(idFirst, doctorA, room1, monday(10, 0), monday(10, 30))
	second := appt(idSecond, doctorA, room2, monday(10, 15), monday(10, 45))

	conflicts := NewConflictDetector(cfg).Detect([]Appointment{first, second}, TimeInterval{}, nil)
	if len(conflicts) != 1 || !conflicts[0].AutoResolvable {
		t.Fatalf("expected an auto-resolvable conflict, got %+v", conflicts)
	}

	// A practitioner who only works the exact hour of the clash has nowhere to go.
	hours := &WorkingHours{Start: Clock(10, 0), End: Clock(11, 0), Days: []time.Weekday{time.Monday}}
	dir := NewDirectory([]Practitioner{{ID: doctorA, Active: true, WorkingHours: hours}})
	first = appt(idFirst, doctorA, room1, monday(10, 0), monday(11, 0))
	second = appt(idSecond, doctorA, room2, monday(10, 0), monday(11, 0))
	conflicts = NewConflictDetector(cfg).Detect([]Appointment{first, second}, TimeInterval{}, dir)
	if len(conflicts) != 1 || conflicts[0].AutoResolvable {
		t.Fatalf("expected a conflict that cannot be resolved, got %+v", conflicts)
	}
}

func TestDetect_AlternativeNotBeforeAppointment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolveWindowDays = 1
	// Only the morning before the clash is free on Monday, and Tuesday is off.
	hours := &WorkingHours{Start: Clock(8, 0), End: Clock(12, 0), Days: []time.Weekday{time.Monday}}
	dir := NewDirectory([]Practitioner{{ID: doctorA, Active: true, WorkingHours: hours}})
	first := appt(idFirst, doctorA, room1, monday(10, 0), monday(12, 0))
	second := appt(idSecond, doctorA, room2, monday(10, 30), monday(11, 0))

	conflicts := NewConflictDetector(cfg).Detect([]Appointment{first, second}, TimeInterval{}, dir)
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", conflicts)
	}
	if conflicts[0].AutoResolvable {
		t.Error("expected no alternative once slots before the appointment are ruled out")
	}
}

func TestDetect_TiesOrderedFully(t *testing.T) {
	// One long appointment against two that start together yields conflicts
	// sharing time, kind and first id.
	long := appt(idFirst, doctorA, room1, monday(9, 0), monday(12, 0))
	a := appt(idSecond, doctorA, room2, monday(10, 0), monday(10, 30))
	b := appt(idThird, doctorA, room2, monday(10, 0), monday(10, 30))

	want := detect(long, a, b)
	for i := 0; i < 20; i++ {
		got := detect(b, long, a)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: order differs:\n got %+v\nwant %+v", i, got, want)
		}
	}
	for i := 1; i < len(want); i++ {
		p, c := want[i-1], want[i]
		if p.At.Equal(c.At) && p.Kind == c.Kind && p.AppointmentIDs[0] == c.AppointmentIDs[0] &&
			len(p.AppointmentIDs) > 1 && len(c.AppointmentIDs) > 1 &&
			p.AppointmentIDs[1].String() > c.AppointmentIDs[1].String() {
			t.Errorf("conflicts %d and %d out of order by second id", i-1, i)
		}
	}
}

func TestDetect_Deterministic(t *testing.T) {
	appts := []Appointment{
		appt(idThird, doctorA, room1, monday(11, 0), monday(11, 30)),
		appt(idFirst, doctorA, room1, monday(9, 0), monday(12, 0)),
		appt(idSecond, doctorB, room1, monday(9, 30), monday(10, 0)),
	}
	want := detect(appts...)
	for i := 0; i < 10; i++ {
		got := detect(appts[2], appts[0], appts[1])
		if len(got) != len(want) {
			t.Fatalf("run %d: got %d conflicts, want %d", i, len(got), len(want))
		}
		for j := range got {
			if got[j].Kind != want[j].Kind || !got[j].At.Equal(want[j].At) || got[j].AppointmentIDs[0] != want[j].AppointmentIDs[0] {
				t.Fatalf("run %d: conflict %d differs: %+v vs %+v", i, j, got[j], want[j])
			}
		}
	}
}
