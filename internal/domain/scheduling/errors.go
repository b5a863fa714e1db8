package scheduling

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid scheduling request")
	ErrConflictAtCommit    = errors.New("slot is no longer available")
	ErrNoSlotAvailable     = errors.New("no available slot in the search window")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentInactive = errors.New("appointment is cancelled or marked no-show")
)
