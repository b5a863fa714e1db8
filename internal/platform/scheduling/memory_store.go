package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sched "github.com/ehr/schedengine/internal/domain/scheduling"
)

// MemoryStore is an in-memory sched.AppointmentStore. Writes hold the lock
// across the overlap check and the insert, so concurrent bookings of the
// same slot cannot both succeed.
type MemoryStore struct {
	mu            sync.RWMutex
	practitioners map[uuid.UUID]sched.Practitioner
	rooms         map[uuid.UUID]sched.Room
	appointments  map[uuid.UUID]*sched.Appointment
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		practitioners: make(map[uuid.UUID]sched.Practitioner),
		rooms:         make(map[uuid.UUID]sched.Room),
		appointments:  make(map[uuid.UUID]*sched.Appointment),
		now:           time.Now,
	}
}

// AddPractitioner adds or replaces a practitioner.
func (m *MemoryStore) AddPractitioner(p sched.Practitioner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.practitioners[p.ID] = p
}

// AddRoom adds or replaces a room.
func (m *MemoryStore) AddRoom(r sched.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r
}

// AddAppointment stores a as is, without the overlap check. It exists to
// load existing data, including already conflicting bookings.
func (m *MemoryStore) AddAppointment(a sched.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = sched.StatusBooked
	}
	m.appointments[a.ID] = &a
}

// Seed is the JSON document accepted by LoadSeed.
type Seed struct {
	Practitioners []sched.Practitioner `json:"practitioners"`
	Rooms         []sched.Room         `json:"rooms"`
	Appointments  []sched.Appointment  `json:"appointments"`
}

// LoadSeed adds the practitioners, rooms and appointments of a Seed document.
func (m *MemoryStore) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, p := range seed.Practitioners {
		if p.WorkingHours != nil {
			if err := p.WorkingHours.Validate(); err != nil {
				return fmt.Errorf("seed practitioner %s: %w", p.ID, err)
			}
		}
	}
	for _, p := range seed.Practitioners {
		m.AddPractitioner(p)
	}
	for _, rm := range seed.Rooms {
		m.AddRoom(rm)
	}
	for _, a := range seed.Appointments {
		m.AddAppointment(a)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) PractitionersByClinic(_ context.Context, clinicID uuid.UUID, specialization string) ([]sched.Practitioner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []sched.Practitioner
	for _, p := range m.practitioners {
		if p.ClinicID != clinicID || !p.Active {
			continue
		}
		if specialization != "" && p.Specialization != specialization {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *MemoryStore) ActiveRoomsByClinic(_ context.Context, clinicID uuid.UUID) ([]sched.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []sched.Room
	for _, r := range m.rooms {
		if r.ClinicID == clinicID && r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *MemoryStore) AppointmentsOverlapping(_ context.Context, resourceIDs []uuid.UUID, rng sched.TimeInterval, includeInactive bool) ([]sched.Appointment, error) {
	wanted := make(map[uuid.UUID]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		wanted[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []sched.Appointment
	for _, a := range m.appointments {
		if !wanted[a.PractitionerID] && !wanted[a.RoomID] {
			continue
		}
		if !includeInactive && !a.IsLive() {
			continue
		}
		if !a.Interval().Overlaps(rng) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*sched.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, sched.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Create(_ context.Context, a *sched.Appointment) error {
	if err := a.Interval().Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Status == "" {
		a.Status = sched.StatusBooked
	}
	if a.IsLive() {
		if err := m.overlapLocked(a.PractitionerID, a.RoomID, a.Interval(), uuid.Nil); err != nil {
			return err
		}
	}
	a.ID = uuid.New()
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *MemoryStore) Reschedule(_ context.Context, id uuid.UUID, practitionerID, roomID uuid.UUID, iv sched.TimeInterval) (*sched.Appointment, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.liveLocked(id)
	if err != nil {
		return nil, err
	}
	if err := m.overlapLocked(practitionerID, roomID, iv, id); err != nil {
		return nil, err
	}
	a.PractitionerID, a.RoomID = practitionerID, roomID
	a.Start, a.End = iv.Start, iv.End
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) Cancel(_ context.Context, id uuid.UUID, reason string) (*sched.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.liveLocked(id)
	if err != nil {
		return nil, err
	}
	a.Status = sched.StatusCancelled
	if reason != "" {
		a.Reason = reason
	}
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) liveLocked(id uuid.UUID) (*sched.Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, sched.ErrAppointmentNotFound
	}
	if !a.IsLive() {
		return nil, sched.ErrAppointmentInactive
	}
	return a, nil
}

// overlapLocked returns ErrConflictAtCommit when a live appointment other
// than skip holds the practitioner or the room during iv.
func (m *MemoryStore) overlapLocked(practitionerID, roomID uuid.UUID, iv sched.TimeInterval, skip uuid.UUID) error {
	for _, other := range m.appointments {
		if other.ID == skip || !other.IsLive() || !other.Interval().Overlaps(iv) {
			continue
		}
		if other.PractitionerID == practitionerID {
			return fmt.Errorf("%w: practitioner %s is booked by appointment %s", sched.ErrConflictAtCommit, practitionerID, other.ID)
		}
		if other.RoomID == roomID {
			return fmt.Errorf("%w: room %s is booked by appointment %s", sched.ErrConflictAtCommit, roomID, other.ID)
		}
	}
	return nil
}
