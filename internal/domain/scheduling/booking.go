package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingRequest asks the Booker to book the best slot matching Criteria.
type BookingRequest struct {
	Criteria    SlotCriteria `json:"criteria"`
	PatientID   uuid.UUID    `json:"patient_id"`
	ServiceType string       `json:"service_type,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// RescheduleRequest moves an appointment. Nil resources keep the current ones.
type RescheduleRequest struct {
	PractitionerID *uuid.UUID   `json:"practitioner_id,omitempty"`
	RoomID         *uuid.UUID   `json:"room_id,omitempty"`
	Interval       TimeInterval `json:"interval"`
}

// Booker commits engine answers through an AppointmentStore. The store
// enforces the no-overlap rule at commit; a lost race re-runs the search
// exactly once.
type Booker struct {
	engine  *Engine
	store   AppointmentStore
	metrics *Metrics
	logger  zerolog.Logger
}

func NewBooker(engine *Engine, store AppointmentStore, metrics *Metrics, logger zerolog.Logger) *Booker {
	return &Booker{
		engine:  engine,
		store:   store,
		metrics: metrics,
		logger:  logger.With().Str("component", "booking").Logger(),
	}
}

// Book searches for the optimal slot and creates an appointment in it.
func (b *Booker) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		b.metrics.observeBooking("book", "invalid")
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		started := time.Now()
		res, err := b.engine.FindOptimalSlot(ctx, req.Criteria)
		if err != nil {
			b.metrics.observeBooking("book", resultOf(err))
			return nil, err
		}
		b.metrics.observeSearch(res.Outcome, time.Since(started).Seconds())
		if res.Slot == nil {
			b.metrics.observeBooking("book", string(res.Outcome))
			return nil, fmt.Errorf("%w: %s between %s and %s", ErrNoSlotAvailable, res.Outcome,
				res.Window.Start.Format(time.DateOnly), res.Window.End.Format(time.DateOnly))
		}

		appt := &Appointment{
			ClinicID:       req.Criteria.ClinicID,
			PatientID:      req.PatientID,
			PractitionerID: res.Slot.PractitionerID,
			RoomID:         res.Slot.RoomID,
			Start:          res.Slot.Interval.Start,
			End:            res.Slot.Interval.End,
			Status:         StatusBooked,
			ServiceType:    req.ServiceType,
			Reason:         req.Reason,
		}
		if req.Criteria.Preferences != nil {
			appt.Priority = req.Criteria.Preferences.Priority
		}
		err = b.store.Create(ctx, appt)
		if err == nil {
			b.metrics.observeBooking("book", "booked")
			b.logger.Info().
				Str("appointment_id", appt.ID.String()).
				Str("practitioner_id", appt.PractitionerID.String()).
				Str("room_id", appt.RoomID.String()).
				Time("start", appt.Start).
				Float64("score", res.Slot.Scores.Total).
				Int("attempt", attempt).
				Msg("appointment booked")
			return appt, nil
		}
		if !errors.Is(err, ErrConflictAtCommit) {
			b.metrics.observeBooking("book", "error")
			return nil, fmt.Errorf("create appointment: %w", err)
		}
		b.metrics.observeConflict()
		b.logger.Warn().
			Str("practitioner_id", appt.PractitionerID.String()).
			Str("room_id", appt.RoomID.String()).
			Time("start", appt.Start).
			Int("attempt", attempt).
			Msg("slot taken at commit")
		lastErr = err
	}
	b.metrics.observeBooking("book", "conflict")
	return nil, lastErr
}

// Reschedule moves a live appointment to iv after checking the new slot with
// the appointment itself excluded.
func (b *Booker) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if err := req.Interval.Validate(); err != nil {
		b.metrics.observeBooking("reschedule", "invalid")
		return nil, err
	}
	current, err := b.store.GetByID(ctx, id)
	if err != nil {
		b.metrics.observeBooking("reschedule", resultOf(err))
		return nil, err
	}
	if !current.IsLive() {
		b.metrics.observeBooking("reschedule", "inactive")
		return nil, ErrAppointmentInactive
	}
	practitionerID, roomID := current.PractitionerID, current.RoomID
	if req.PractitionerID != nil {
		practitionerID = *req.PractitionerID
	}
	if req.RoomID != nil {
		roomID = *req.RoomID
	}

	ok, err := b.engine.IsSlotAvailable(ctx, practitionerID, roomID, req.Interval, &id)
	if err != nil {
		b.metrics.observeBooking("reschedule", resultOf(err))
		return nil, err
	}
	if !ok {
		b.metrics.observeBooking("reschedule", "conflict")
		return nil, fmt.Errorf("%w: requested interval overlaps another appointment", ErrConflictAtCommit)
	}

	updated, err := b.store.Reschedule(ctx, id, practitionerID, roomID, req.Interval)
	if err != nil {
		if errors.Is(err, ErrConflictAtCommit) {
			b.metrics.observeConflict()
		}
		b.metrics.observeBooking("reschedule", resultOf(err))
		return nil, err
	}
	b.metrics.observeBooking("reschedule", "rescheduled")
	b.logger.Info().
		Str("appointment_id", id.String()).
		Time("from", current.Start).
		Time("to", updated.Start).
		Msg("appointment rescheduled")
	return updated, nil
}

// Cancel releases the appointment's resources.
func (b *Booker) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := b.store.Cancel(ctx, id, reason)
	if err != nil {
		b.metrics.observeBooking("cancel", resultOf(err))
		return nil, err
	}
	b.metrics.observeBooking("cancel", "cancelled")
	b.logger.Info().Str("appointment_id", id.String()).Str("reason", reason).Msg("appointment cancelled")
	return appt, nil
}

// Get returns one appointment.
func (b *Booker) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return b.store.GetByID(ctx, id)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrAppointmentInactive):
		return "inactive"
	case errors.Is(err, ErrConflictAtCommit):
		return "conflict"
	default:
		return "error"
	}
}
