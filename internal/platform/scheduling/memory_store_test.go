package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	sched "github.com/ehr/schedengine/internal/domain/scheduling"
)

var (
	clinicID = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
	doctorA  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	doctorB  = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	room1    = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	room2    = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
	patient  = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func newTestStore() *MemoryStore {
	m := NewMemoryStore()
	m.AddPractitioner(sched.Practitioner{ID: doctorA, ClinicID: clinicID, Name: "Dr A", Specialization: "cardiology", Active: true})
	m.AddPractitioner(sched.Practitioner{ID: doctorB, ClinicID: clinicID, Name: "Dr B", Specialization: "dermatology", Active: true})
	m.AddRoom(sched.Room{ID: room1, ClinicID: clinicID, Name: "Room 1", Active: true})
	m.AddRoom(sched.Room{ID: room2, ClinicID: clinicID, Name: "Room 2", Active: false})
	return m
}

func appointment(practitioner, room uuid.UUID, start, end time.Time) *sched.Appointment {
	return &sched.Appointment{
		ClinicID:       clinicID,
		PatientID:      patient,
		PractitionerID: practitioner,
		RoomID:         room,
		Start:          start,
		End:            end,
	}
}

func TestMemoryStore_PractitionersByClinic(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	all, err := m.PractitionersByClinic(ctx, clinicID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 practitioners, got %d", len(all))
	}
	cardio, _ := m.PractitionersByClinic(ctx, clinicID, "cardiology")
	if len(cardio) != 1 || cardio[0].ID != doctorA {
		t.Errorf("expected only Dr A, got %+v", cardio)
	}
	other, _ := m.PractitionersByClinic(ctx, uuid.New(), "")
	if len(other) != 0 {
		t.Errorf("expected no practitioners for unknown clinic, got %d", len(other))
	}
}

func TestMemoryStore_ActiveRoomsByClinic(t *testing.T) {
	rooms, err := newTestStore().ActiveRoomsByClinic(context.Background(), clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != room1 {
		t.Errorf("expected only the active room, got %+v", rooms)
	}
}

func TestMemoryStore_CreateRejectsOverlap(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	if err := m.Create(ctx, appointment(doctorA, room1, at(10, 0), at(10, 30))); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := m.Create(ctx, appointment(doctorA, room2, at(10, 15), at(10, 45)))
	if !errors.Is(err, sched.ErrConflictAtCommit) {
		t.Fatalf("expected ErrConflictAtCommit for practitioner overlap, got %v", err)
	}
	err = m.Create(ctx, appointment(doctorB, room1, at(10, 0), at(10, 30)))
	if !errors.Is(err, sched.ErrConflictAtCommit) {
		t.Fatalf("expected ErrConflictAtCommit for room overlap, got %v", err)
	}
	if err := m.Create(ctx, appointment(doctorA, room1, at(10, 30), at(11, 0))); err != nil {
		t.Fatalf("back-to-back create should succeed: %v", err)
	}
}

func TestMemoryStore_CreateIgnoresCancelled(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	a := appointment(doctorA, room1, at(9, 0), at(9, 30))
	if err := m.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Cancel(ctx, a.ID, "patient request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.Create(ctx, appointment(doctorA, room1, at(9, 0), at(9, 30))); err != nil {
		t.Fatalf("create over cancelled appointment: %v", err)
	}
}

func TestMemoryStore_ConcurrentCreate(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicted := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Create(ctx, appointment(doctorA, room1, at(14, 0), at(14, 30)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, sched.ErrConflictAtCommit):
				conflicted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicted != n-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", n-1, succeeded, conflicted)
	}
}

func TestMemoryStore_RescheduleExcludesSelf(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	a := appointment(doctorA, room1, at(10, 0), at(10, 30))
	if err := m.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	moved, err := m.Reschedule(ctx, a.ID, doctorA, room1, sched.TimeInterval{Start: at(10, 15), End: at(10, 45)})
	if err != nil {
		t.Fatalf("reschedule onto own interval: %v", err)
	}
	if !moved.Start.Equal(at(10, 15)) {
		t.Errorf("expected start 10:15, got %v", moved.Start)
	}

	b := appointment(doctorA, room1, at(11, 0), at(11, 30))
	if err := m.Create(ctx, b); err != nil {
		t.Fatalf("create b: %v", err)
	}
	_, err = m.Reschedule(ctx, b.ID, doctorA, room1, sched.TimeInterval{Start: at(10, 30), End: at(11, 0)})
	if !errors.Is(err, sched.ErrConflictAtCommit) {
		t.Errorf("expected ErrConflictAtCommit, got %v", err)
	}
}

func TestMemoryStore_NotFoundAndInactive(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	if _, err := m.GetByID(ctx, uuid.New()); !errors.Is(err, sched.ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
	if _, err := m.Cancel(ctx, uuid.New(), ""); !errors.Is(err, sched.ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}

	a := appointment(doctorA, room1, at(8, 0), at(8, 30))
	if err := m.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Cancel(ctx, a.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := m.Cancel(ctx, a.ID, ""); !errors.Is(err, sched.ErrAppointmentInactive) {
		t.Errorf("expected ErrAppointmentInactive, got %v", err)
	}
	_, err := m.Reschedule(ctx, a.ID, doctorA, room1, sched.TimeInterval{Start: at(9, 0), End: at(9, 30)})
	if !errors.Is(err, sched.ErrAppointmentInactive) {
		t.Errorf("expected ErrAppointmentInactive, got %v", err)
	}
}

func TestMemoryStore_AppointmentsOverlapping(t *testing.T) {
	m := newTestStore()
	ctx := context.Background()

	m.AddAppointment(*appointment(doctorA, room1, at(9, 0), at(9, 30)))
	m.AddAppointment(*appointment(doctorB, room1, at(9, 15), at(9, 45)))
	cancelled := appointment(doctorA, room2, at(9, 0), at(9, 30))
	cancelled.Status = sched.StatusCancelled
	m.AddAppointment(*cancelled)

	rng := sched.TimeInterval{Start: at(8, 0), End: at(12, 0)}
	live, err := m.AppointmentsOverlapping(ctx, []uuid.UUID{doctorA}, rng, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(live) != 1 {
		t.Errorf("expected 1 live appointment for Dr A, got %d", len(live))
	}
	withInactive, _ := m.AppointmentsOverlapping(ctx, []uuid.UUID{doctorA}, rng, true)
	if len(withInactive) != 2 {
		t.Errorf("expected 2 appointments including cancelled, got %d", len(withInactive))
	}
	byRoom, _ := m.AppointmentsOverlapping(ctx, []uuid.UUID{room1}, rng, false)
	if len(byRoom) != 2 || !byRoom[0].Start.Before(byRoom[1].Start) {
		t.Errorf("expected 2 room appointments in start order, got %+v", byRoom)
	}
	edge, _ := m.AppointmentsOverlapping(ctx, []uuid.UUID{doctorA}, sched.TimeInterval{Start: at(9, 30), End: at(10, 0)}, false)
	if len(edge) != 0 {
		t.Errorf("expected touching interval not to overlap, got %d", len(edge))
	}
}

func TestMemoryStore_LoadSeed(t *testing.T) {
	m := NewMemoryStore()
	doc := `{
		"practitioners": [{"id": "00000000-0000-0000-0000-0000000000a1", "clinic_id": "00000000-0000-0000-0000-0000000000c1",
			"name": "Dr A", "active": true, "working_hours": {"start": "09:00", "end": "13:00", "days": [1, 2, 3]}}],
		"rooms": [{"id": "00000000-0000-0000-0000-0000000000b1", "clinic_id": "00000000-0000-0000-0000-0000000000c1", "name": "Room 1", "active": true}],
		"appointments": [{"practitioner_id": "00000000-0000-0000-0000-0000000000a1", "room_id": "00000000-0000-0000-0000-0000000000b1",
			"start": "2025-03-10T09:00:00Z", "end": "2025-03-10T09:30:00Z"}]
	}`
	if err := m.LoadSeed(strings.NewReader(doc)); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	ps, _ := m.PractitionersByClinic(context.Background(), clinicID, "")
	if len(ps) != 1 || ps[0].WorkingHours == nil || ps[0].WorkingHours.Start != sched.Clock(9, 0) {
		t.Fatalf("unexpected practitioners: %+v", ps)
	}
	if len(ps[0].WorkingHours.Days) != 3 || ps[0].WorkingHours.Days[0] != time.Monday {
		t.Errorf("unexpected working days: %v", ps[0].WorkingHours.Days)
	}
	appts, _ := m.AppointmentsOverlapping(context.Background(), []uuid.UUID{doctorA}, sched.TimeInterval{Start: at(0, 0), End: at(23, 0)}, false)
	if len(appts) != 1 || appts[0].Status != sched.StatusBooked {
		t.Errorf("expected one booked seed appointment, got %+v", appts)
	}

	if err := m.LoadSeed(strings.NewReader("{")); err == nil {
		t.Error("expected error for malformed seed")
	}
}

func TestMemoryStore_LoadSeedRejectsInvertedHours(t *testing.T) {
	m := NewMemoryStore()
	doc := `{"practitioners": [{"id": "00000000-0000-0000-0000-0000000000a1", "clinic_id": "00000000-0000-0000-0000-0000000000c1",
		"name": "Dr A", "active": true, "working_hours": {"start": "17:00", "end": "09:00"}}]}`
	err := m.LoadSeed(strings.NewReader(doc))
	if !errors.Is(err, sched.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if ps, _ := m.PractitionersByClinic(context.Background(), clinicID, ""); len(ps) != 0 {
		t.Errorf("expected nothing loaded, got %+v", ps)
	}
}
