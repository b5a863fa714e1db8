package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	clinicA  = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
	doctorA  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	doctorB  = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	room1    = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
	room2    = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
	patientA = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
)

// monday is 2025-03-10, a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func appt(id string, practitioner, room uuid.UUID, start, end time.Time) Appointment {
	return Appointment{
		ID:             uuid.MustParse(id),
		ClinicID:       clinicA,
		PatientID:      patientA,
		PractitionerID: practitioner,
		RoomID:         room,
		Start:          start,
		End:            end,
		Status:         StatusBooked,
	}
}

// fakeStore is an in-package AppointmentStore. createErrs are returned by
// successive Create calls before falling back to a plain insert.
type fakeStore struct {
	mu            sync.Mutex
	practitioners []Practitioner
	rooms         []Room
	appointments  []Appointment
	createErrs    []error
	creates       int
	fetchErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		practitioners: []Practitioner{
			{ID: doctorA, ClinicID: clinicA, Name: "Dr A", Specialization: "cardiology", Active: true},
			{ID: doctorB, ClinicID: clinicA, Name: "Dr B", Specialization: "dermatology", Active: true},
		},
		rooms: []Room{
			{ID: room1, ClinicID: clinicA, Name: "Room 1", Active: true},
			{ID: room2, ClinicID: clinicA, Name: "Room 2", Active: true},
		},
	}
}

func (f *fakeStore) PractitionersByClinic(_ context.Context, clinicID uuid.UUID, specialization string) ([]Practitioner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []Practitioner
	for _, p := range f.practitioners {
		if p.ClinicID == clinicID && (specialization == "" || p.Specialization == specialization) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveRoomsByClinic(_ context.Context, clinicID uuid.UUID) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Room
	for _, r := range f.rooms {
		if r.ClinicID == clinicID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) AppointmentsOverlapping(_ context.Context, resourceIDs []uuid.UUID, rng TimeInterval, includeInactive bool) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		want[id] = true
	}
	var out []Appointment
	for _, a := range f.appointments {
		if !includeInactive && !a.IsLive() {
			continue
		}
		if !a.Interval().Overlaps(rng) {
			continue
		}
		if want[a.PractitionerID] || want[a.RoomID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) Create(_ context.Context, a *Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.appointments = append(f.appointments, *a)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeStore) Reschedule(_ context.Context, id uuid.UUID, practitionerID, roomID uuid.UUID, iv TimeInterval) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.appointments {
		if f.appointments[i].ID == id {
			f.appointments[i].PractitionerID, f.appointments[i].RoomID = practitionerID, roomID
			f.appointments[i].Start, f.appointments[i].End = iv.Start, iv.End
			a := f.appointments[i]
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeStore) Cancel(_ context.Context, id uuid.UUID, _ string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.appointments {
		if f.appointments[i].ID == id {
			if !f.appointments[i].IsLive() {
				return nil, ErrAppointmentInactive
			}
			f.appointments[i].Status = StatusCancelled
			a := f.appointments[i]
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}
