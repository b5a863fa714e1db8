package scheduling

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/schedengine/internal/platform/auth"
	"github.com/ehr/schedengine/pkg/pagination"
)

type Handler struct {
	engine *Engine
	booker *Booker
	now    func() time.Time
}

func NewHandler(engine *Engine, booker *Booker) *Handler {
	return &Handler{engine: engine, booker: booker, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scheduling", auth.RequireRole("admin", "physician", "nurse", "registrar"))
	g.POST("/slots/optimal", h.FindOptimalSlot)
	g.POST("/slots/search", h.SearchSlots)
	g.POST("/slots/check", h.CheckSlot)
	g.GET("/clinics/:clinic_id/conflicts", h.DetectConflicts)
	g.POST("/clinics/:clinic_id/optimize", h.Optimize)
	g.POST("/appointments", h.BookAppointment)
	g.GET("/appointments/:id", h.GetAppointment)
	g.PUT("/appointments/:id/reschedule", h.RescheduleAppointment)
	g.POST("/appointments/:id/cancel", h.CancelAppointment)
}

// slotSearchRequest is the wire form of SlotCriteria.
type slotSearchRequest struct {
	ClinicID        uuid.UUID              `json:"clinic_id"`
	PractitionerID  *uuid.UUID             `json:"practitioner_id,omitempty"`
	Specialization  string                 `json:"specialization,omitempty"`
	DurationMinutes int                    `json:"duration_minutes"`
	PreferredDate   string                 `json:"preferred_date"`
	Preferences     *SchedulingPreferences `json:"preferences,omitempty"`
	Strategy        OptimizationStrategy   `json:"strategy,omitempty"`
}

func (h *Handler) criteria(r slotSearchRequest) (SlotCriteria, error) {
	now := h.now()
	c := SlotCriteria{
		ClinicID:       r.ClinicID,
		PractitionerID: r.PractitionerID,
		Specialization: r.Specialization,
		Duration:       time.Duration(r.DurationMinutes) * time.Minute,
		Today:          now,
		NotBefore:      now,
		Preferences:    r.Preferences,
		Strategy:       r.Strategy,
	}
	if r.PreferredDate == "" {
		c.PreferredDate = now
		return c, nil
	}
	d, err := parseDate(r.PreferredDate, h.engine.Config().Location)
	if err != nil {
		return c, err
	}
	c.PreferredDate = d
	return c, nil
}

func (h *Handler) FindOptimalSlot(c echo.Context) error {
	var req slotSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	criteria, err := h.criteria(req)
	if err != nil {
		return httpError(err)
	}
	res, err := h.engine.FindOptimalSlot(c.Request().Context(), criteria)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SearchSlots(c echo.Context) error {
	var req slotSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	criteria, err := h.criteria(req)
	if err != nil {
		return httpError(err)
	}
	list, err := h.engine.ListAvailableSlots(c.Request().Context(), criteria)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(list.Slots, pg), len(list.Slots), pg))
}

type slotCheckRequest struct {
	PractitionerID       uuid.UUID  `json:"practitioner_id"`
	RoomID               uuid.UUID  `json:"room_id"`
	Start                time.Time  `json:"start"`
	End                  time.Time  `json:"end"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id,omitempty"`
}

func (h *Handler) CheckSlot(c echo.Context) error {
	var req slotCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	iv := TimeInterval{Start: req.Start, End: req.End}
	ok, err := h.engine.IsSlotAvailable(c.Request().Context(), req.PractitionerID, req.RoomID, iv, req.ExcludeAppointmentID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"available": ok, "interval": iv})
}

func (h *Handler) DetectConflicts(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
	}
	rng, err := h.rangeFromQuery(c)
	if err != nil {
		return httpError(err)
	}
	conflicts, err := h.engine.DetectConflicts(c.Request().Context(), clinicID, rng)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"range":     rng,
		"count":     len(conflicts),
		"conflicts": conflicts,
	})
}

type optimizeRequest struct {
	Strategy OptimizationStrategy `json:"strategy"`
	Start    time.Time            `json:"start"`
	End      time.Time            `json:"end"`
}

func (h *Handler) Optimize(c echo.Context) error {
	clinicID, err := uuid.Parse(c.Param("clinic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
	}
	var req optimizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rng := TimeInterval{Start: req.Start, End: req.End}
	appts, practitioners, err := h.engine.ClinicAppointments(ctx, clinicID, rng)
	if err != nil {
		return httpError(err)
	}
	res, err := h.engine.ApplyOptimizationStrategy(req.Strategy, appts, practitioners, rng)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type bookingRequest struct {
	slotSearchRequest
	PatientID   uuid.UUID `json:"patient_id"`
	ServiceType string    `json:"service_type,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req bookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	criteria, err := h.criteria(req.slotSearchRequest)
	if err != nil {
		return httpError(err)
	}
	appt, err := h.booker.Book(c.Request().Context(), BookingRequest{
		Criteria:    criteria,
		PatientID:   req.PatientID,
		ServiceType: req.ServiceType,
		Reason:      req.Reason,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.booker.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

type rescheduleRequest struct {
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.booker.Reschedule(c.Request().Context(), id, RescheduleRequest{
		PractitionerID: req.PractitionerID,
		RoomID:         req.RoomID,
		Interval:       TimeInterval{Start: req.Start, End: req.End},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.booker.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// rangeFromQuery reads start and end as RFC 3339 instants or dates. A date
// end is inclusive. Missing bounds default to today and a week after.
func (h *Handler) rangeFromQuery(c echo.Context) (TimeInterval, error) {
	loc := h.engine.Config().Location
	today := h.engine.Config().dayOf(h.now())
	rng := TimeInterval{Start: today, End: today.AddDate(0, 0, 7)}
	if s := c.QueryParam("start"); s != "" {
		t, err := parseDate(s, loc)
		if err != nil {
			return rng, err
		}
		rng.Start = t
	}
	if s := c.QueryParam("end"); s != "" {
		t, err := parseDate(s, loc)
		if err != nil {
			return rng, err
		}
		if len(s) == len(time.DateOnly) {
			t = t.AddDate(0, 0, 1)
		}
		rng.End = t
	}
	return rng, rng.Validate()
}

// parseDate accepts "YYYY-MM-DD" in loc or an RFC 3339 instant.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: want YYYY-MM-DD or RFC 3339", ErrInvalidRequest, s)
	}
	return t, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoSlotAvailable), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflictAtCommit), errors.Is(err, ErrAppointmentInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
