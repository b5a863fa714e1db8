package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ResourceDataPort is the read side the engine queries. Implementations must
// be safe for concurrent use.
type ResourceDataPort interface {
	// PractitionersByClinic returns the active practitioners of a clinic. An
	// empty specialization matches all of them.
	PractitionersByClinic(ctx context.Context, clinicID uuid.UUID, specialization string) ([]Practitioner, error)
	ActiveRoomsByClinic(ctx context.Context, clinicID uuid.UUID) ([]Room, error)
	// AppointmentsOverlapping returns appointments whose practitioner or room
	// is one of resourceIDs and whose interval overlaps rng. Cancelled and
	// no-show appointments are left out unless includeInactive is set.
	AppointmentsOverlapping(ctx context.Context, resourceIDs []uuid.UUID, rng TimeInterval, includeInactive bool) ([]Appointment, error)
}

// AppointmentStore is the write side used by Booker. Create and Reschedule
// must return ErrConflictAtCommit when the change would overlap a live
// appointment of the same practitioner or room.
type AppointmentStore interface {
	ResourceDataPort
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, practitionerID, roomID uuid.UUID, iv TimeInterval) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error)
}
