package scheduling

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
// 24:00 is allowed as an end-of-day bound.
type TimeOfDay int

const minutesPerDay = 24 * 60

// Clock builds a TimeOfDay from hours and minutes.
func Clock(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

// TimeOfDayOf returns the wall-clock time of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay { return Clock(t.Hour(), t.Minute()) }

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return Clock(hour, minute), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute()) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On returns the instant of t on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

// WorkingHours is the daily window during which a practitioner can be booked.
// An empty Days list means every day of the week.
type WorkingHours struct {
	Start TimeOfDay      `json:"start"`
	End   TimeOfDay      `json:"end"`
	Days  []time.Weekday `json:"days,omitempty"`
}

// DefaultWorkingHours is 08:00-18:00 on every day.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{Start: Clock(8, 0), End: Clock(18, 0)}
}

func (w WorkingHours) Validate() error {
	if w.Start < 0 || w.End > minutesPerDay || w.Start >= w.End {
		return fmt.Errorf("%w: working hours %s-%s", ErrInvalidRequest, w.Start, w.End)
	}
	return nil
}

// IsWorkingDay reports whether wd is a working day.
func (w WorkingHours) IsWorkingDay(wd time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	return containsWeekday(w.Days, wd)
}

// Window returns the working interval on the calendar day of day.
func (w WorkingHours) Window(day time.Time) TimeInterval {
	return TimeInterval{Start: w.Start.On(day), End: w.End.On(day)}
}

// Span is the length of a working day.
func (w WorkingHours) Span() time.Duration {
	return time.Duration(w.End-w.Start) * time.Minute
}

// Practitioner is a bookable clinician.
type Practitioner struct {
	ID             uuid.UUID     `json:"id"`
	ClinicID       uuid.UUID     `json:"clinic_id"`
	Name           string        `json:"name"`
	Specialization string        `json:"specialization,omitempty"`
	Active         bool          `json:"active"`
	WorkingHours   *WorkingHours `json:"working_hours,omitempty"`
}

// Room is a bookable clinic room.
type Room struct {
	ID       uuid.UUID `json:"id"`
	ClinicID uuid.UUID `json:"clinic_id"`
	Name     string    `json:"name"`
	Active   bool      `json:"active"`
}

// AppointmentStatus follows the FHIR appointment status codes.
type AppointmentStatus string

const (
	StatusProposed  AppointmentStatus = "proposed"
	StatusPending   AppointmentStatus = "pending"
	StatusBooked    AppointmentStatus = "booked"
	StatusArrived   AppointmentStatus = "arrived"
	StatusCheckedIn AppointmentStatus = "checked-in"
	StatusFulfilled AppointmentStatus = "fulfilled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "noshow"
)

var validAppointmentStatuses = map[AppointmentStatus]bool{
	StatusProposed: true, StatusPending: true, StatusBooked: true, StatusArrived: true,
	StatusCheckedIn: true, StatusFulfilled: true, StatusCancelled: true, StatusNoShow: true,
}

func (s AppointmentStatus) Valid() bool { return validAppointmentStatuses[s] }

// InactiveStatuses are the statuses that never conflict.
var InactiveStatuses = []AppointmentStatus{StatusCancelled, StatusNoShow}

// IsLive reports whether an appointment in this status holds its resources.
func (s AppointmentStatus) IsLive() bool {
	return !slices.Contains(InactiveStatuses, s)
}

// Priority of a request or appointment.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

// IsAcute is true for urgent and emergency priorities.
func (p Priority) IsAcute() bool { return p == PriorityUrgent || p == PriorityEmergency }

// Appointment is a committed booking of a practitioner and a room.
type Appointment struct {
	ID             uuid.UUID         `json:"id"`
	ClinicID       uuid.UUID         `json:"clinic_id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	PractitionerID uuid.UUID         `json:"practitioner_id"`
	RoomID         uuid.UUID         `json:"room_id"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	Status         AppointmentStatus `json:"status"`
	Priority       Priority          `json:"priority,omitempty"`
	ServiceType    string            `json:"service_type,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (a Appointment) Interval() TimeInterval { return TimeInterval{Start: a.Start, End: a.End} }

func (a Appointment) IsLive() bool { return a.Status.IsLive() }

// BookedIntervals returns the practitioner and room reservations held by a.
func (a Appointment) BookedIntervals() []BookedInterval {
	iv := a.Interval()
	return []BookedInterval{
		{Resource: a.PractitionerID, Interval: iv, AppointmentID: a.ID},
		{Resource: a.RoomID, Interval: iv, AppointmentID: a.ID},
	}
}

// SchedulingPreferences are the patient-side constraints of a search.
type SchedulingPreferences struct {
	PreferredStart       *TimeOfDay     `json:"preferred_start,omitempty"`
	PreferredEnd         *TimeOfDay     `json:"preferred_end,omitempty"`
	PreferredDays        []time.Weekday `json:"preferred_days,omitempty"`
	ExcludedDays         []time.Weekday `json:"excluded_days,omitempty"`
	MaxDaysFromPreferred int            `json:"max_days_from_preferred"`
	PreferMorning        bool           `json:"prefer_morning"`
	PreferAfternoon      bool           `json:"prefer_afternoon"`
	PreferredRoom        *uuid.UUID     `json:"preferred_room,omitempty"`
	Priority             Priority       `json:"priority,omitempty"`
}

// Validate rejects preferences that cannot describe any slot.
func (p *SchedulingPreferences) Validate() error {
	if p == nil {
		return nil
	}
	if p.MaxDaysFromPreferred < 0 {
		return fmt.Errorf("%w: max_days_from_preferred must not be negative", ErrInvalidRequest)
	}
	if p.PreferredStart != nil && p.PreferredEnd != nil && *p.PreferredStart >= *p.PreferredEnd {
		return fmt.Errorf("%w: preferred_start must be before preferred_end", ErrInvalidRequest)
	}
	if !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, p.Priority)
	}
	return nil
}

// ScoreBreakdown holds the sub-scores of a candidate slot. Total is the sum of
// the four sub-scores.
type ScoreBreakdown struct {
	Proximity      float64 `json:"proximity"`
	TimePreference float64 `json:"time_preference"`
	Utilization    float64 `json:"utilization"`
	Workload       float64 `json:"workload"`
	Total          float64 `json:"total"`
}

// CandidateSlot is a not-yet-booked interval for one practitioner and one room.
type CandidateSlot struct {
	Interval        TimeInterval   `json:"interval"`
	PractitionerID  uuid.UUID      `json:"practitioner_id"`
	RoomID          uuid.UUID      `json:"room_id"`
	Available       bool           `json:"available"`
	Scores          ScoreBreakdown `json:"scores"`
	Factors         []string       `json:"factors,omitempty"`
	ConflictReasons []string       `json:"conflict_reasons,omitempty"`
}

type ConflictKind string

const (
	ConflictPractitionerDoubleBooking ConflictKind = "practitioner-double-booking"
	ConflictRoomDoubleBooking         ConflictKind = "room-double-booking"
	ConflictOutsideAvailability       ConflictKind = "outside-availability"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict is a detected scheduling problem.
type Conflict struct {
	Kind           ConflictKind `json:"kind"`
	Severity       Severity     `json:"severity"`
	AppointmentIDs []uuid.UUID  `json:"appointment_ids"`
	ResourceID     uuid.UUID    `json:"resource_id"`
	At             time.Time    `json:"at"`
	AutoResolvable bool         `json:"auto_resolvable"`
	Description    string       `json:"description"`
}

// OptimizationStrategy selects which sub-scores dominate ranking.
type OptimizationStrategy string

const (
	StrategyMaximizeUtilization OptimizationStrategy = "maximize-utilization"
	StrategyMinimizeGaps        OptimizationStrategy = "minimize-gaps"
	StrategyBalanced            OptimizationStrategy = "balanced"
	StrategyPatientPreference   OptimizationStrategy = "patient-preference"
	StrategyDoctorWorkload      OptimizationStrategy = "doctor-workload"
)

// Proposal moves one appointment to a new interval.
type Proposal struct {
	AppointmentID uuid.UUID    `json:"appointment_id"`
	From          TimeInterval `json:"from"`
	To            TimeInterval `json:"to"`
	Score         float64      `json:"score"`
}

// OptimizationResult summarizes an optimization pass. Proposals are never
// persisted by the engine.
type OptimizationResult struct {
	Strategy          OptimizationStrategy `json:"strategy"`
	Considered        int                  `json:"considered"`
	Changed           int                  `json:"changed"`
	ConflictsBefore   int                  `json:"conflicts_before"`
	ConflictsAfter    int                  `json:"conflicts_after"`
	ConflictsResolved int                  `json:"conflicts_resolved"`
	Proposals         []Proposal           `json:"proposals"`
}

func containsWeekday(days []time.Weekday, wd time.Weekday) bool {
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}
