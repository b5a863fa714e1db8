package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SearchOutcome tells why a search did or did not return a slot.
type SearchOutcome string

const (
	OutcomeFound               SearchOutcome = "found"
	OutcomeNoEligibleResources SearchOutcome = "no-eligible-resources"
	OutcomeNoSlotFound         SearchOutcome = "no-slot-found"
)

// SlotCriteria describes a slot search.
type SlotCriteria struct {
	ClinicID uuid.UUID `json:"clinic_id"`
	// PractitionerID restricts the search to one practitioner of the clinic.
	PractitionerID *uuid.UUID    `json:"practitioner_id,omitempty"`
	Specialization string        `json:"specialization,omitempty"`
	Duration       time.Duration `json:"duration"`
	PreferredDate  time.Time     `json:"preferred_date"`
	// Today, when set, keeps the window from starting on a past day.
	Today time.Time `json:"today,omitempty"`
	// NotBefore skips candidates starting before this instant.
	NotBefore   time.Time              `json:"not_before,omitempty"`
	Preferences *SchedulingPreferences `json:"preferences,omitempty"`
	Strategy    OptimizationStrategy   `json:"strategy,omitempty"`
	// Limit caps ListAvailableSlots; zero means no cap.
	Limit int `json:"limit,omitempty"`
}

func (c SlotCriteria) validate() error {
	if c.ClinicID == uuid.Nil {
		return fmt.Errorf("%w: clinic_id is required", ErrInvalidRequest)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	if c.PreferredDate.IsZero() {
		return fmt.Errorf("%w: preferred_date is required", ErrInvalidRequest)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	}
	if _, err := WeightsFor(c.Strategy); err != nil {
		return err
	}
	return c.Preferences.Validate()
}

// SearchResult is the answer of FindOptimalSlot. Slot is nil unless Outcome
// is OutcomeFound.
type SearchResult struct {
	Slot       *CandidateSlot `json:"slot"`
	Outcome    SearchOutcome  `json:"outcome"`
	Window     TimeInterval   `json:"window"`
	Considered int            `json:"considered"`
}

// SlotList is the answer of ListAvailableSlots.
type SlotList struct {
	Slots      []CandidateSlot `json:"slots"`
	Outcome    SearchOutcome   `json:"outcome"`
	Window     TimeInterval    `json:"window"`
	Considered int             `json:"considered"`
}

// Engine answers slot and conflict queries from snapshots read through a
// ResourceDataPort. It holds no mutable state and never writes. Results are
// not reservations: a slot reported free can be taken before it is booked.
type Engine struct {
	port     ResourceDataPort
	cfg      Config
	gen      *SlotGenerator
	detector *ConflictDetector
}

func NewEngine(port ResourceDataPort, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	cfg = cfg.withDefaults()
	return &Engine{
		port:     port,
		cfg:      cfg,
		gen:      NewSlotGenerator(cfg),
		detector: NewConflictDetector(cfg),
	}, nil
}

// Config returns the defaulted configuration in use.
func (e *Engine) Config() Config { return e.cfg }

// FindOptimalSlot returns the best scored available slot. Ties go to the
// earliest start, then to the lowest practitioner and room ids.
func (e *Engine) FindOptimalSlot(ctx context.Context, c SlotCriteria) (*SearchResult, error) {
	run, err := e.search(ctx, c)
	if err != nil {
		return nil, err
	}
	res := &SearchResult{Outcome: run.outcome, Window: run.window, Considered: run.considered}
	if len(run.slots) > 0 {
		best := run.slots[0]
		res.Slot = &best
	}
	return res, nil
}

// ListAvailableSlots returns every available slot, best first.
func (e *Engine) ListAvailableSlots(ctx context.Context, c SlotCriteria) (*SlotList, error) {
	run, err := e.search(ctx, c)
	if err != nil {
		return nil, err
	}
	slots := run.slots
	if c.Limit > 0 && len(slots) > c.Limit {
		slots = slots[:c.Limit]
	}
	if slots == nil {
		slots = []CandidateSlot{}
	}
	return &SlotList{Slots: slots, Outcome: run.outcome, Window: run.window, Considered: run.considered}, nil
}

// IsSlotAvailable reports whether neither resource has a live appointment
// overlapping iv. The appointment named by exclude is ignored, so an
// appointment never conflicts with itself when rescheduled.
func (e *Engine) IsSlotAvailable(ctx context.Context, practitionerID, roomID uuid.UUID, iv TimeInterval, exclude *uuid.UUID) (bool, error) {
	if err := iv.Validate(); err != nil {
		return false, err
	}
	if practitionerID == uuid.Nil || roomID == uuid.Nil {
		return false, fmt.Errorf("%w: practitioner_id and room_id are required", ErrInvalidRequest)
	}
	appts, err := e.port.AppointmentsOverlapping(ctx, []uuid.UUID{practitionerID, roomID}, iv, false)
	if err != nil {
		return false, fmt.Errorf("fetch appointments: %w", err)
	}
	for _, a := range appts {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if !a.IsLive() || !a.Interval().Overlaps(iv) {
			continue
		}
		if a.PractitionerID == practitionerID || a.RoomID == roomID {
			return false, nil
		}
	}
	return true, nil
}

// DetectConflicts fetches the clinic's live appointments and reports the
// conflicts among those overlapping rng.
func (e *Engine) DetectConflicts(ctx context.Context, clinicID uuid.UUID, rng TimeInterval) ([]Conflict, error) {
	if clinicID == uuid.Nil {
		return nil, fmt.Errorf("%w: clinic_id is required", ErrInvalidRequest)
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	appts, dir, err := e.clinicSnapshot(ctx, clinicID, e.lookahead(rng))
	if err != nil {
		return nil, err
	}
	conflicts := e.detector.Detect(appts, rng, dir)
	if conflicts == nil {
		conflicts = []Conflict{}
	}
	return conflicts, nil
}

// ClinicAppointments returns the clinic's live appointments together with its
// practitioners, the inputs ApplyOptimizationStrategy needs. Appointments are
// fetched past rng.End by the resolve window so that proposed moves see every
// booking they could land on.
func (e *Engine) ClinicAppointments(ctx context.Context, clinicID uuid.UUID, rng TimeInterval) ([]Appointment, []Practitioner, error) {
	if clinicID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: clinic_id is required", ErrInvalidRequest)
	}
	if err := rng.Validate(); err != nil {
		return nil, nil, err
	}
	appts, dir, err := e.clinicSnapshot(ctx, clinicID, e.lookahead(rng))
	if err != nil {
		return nil, nil, err
	}
	practitioners := make([]Practitioner, 0, len(dir))
	for _, p := range dir {
		practitioners = append(practitioners, p)
	}
	sort.Slice(practitioners, func(i, j int) bool { return practitioners[i].ID.String() < practitioners[j].ID.String() })
	return appts, practitioners, nil
}

// lookahead widens rng by the alternative search window of its last day.
func (e *Engine) lookahead(rng TimeInterval) TimeInterval {
	return TimeInterval{Start: rng.Start, End: rng.End.AddDate(0, 0, e.cfg.ResolveWindowDays+1)}
}

func (e *Engine) clinicSnapshot(ctx context.Context, clinicID uuid.UUID, rng TimeInterval) ([]Appointment, Directory, error) {
	practitioners, err := e.port.PractitionersByClinic(ctx, clinicID, "")
	if err != nil {
		return nil, nil, fmt.Errorf("fetch practitioners: %w", err)
	}
	rooms, err := e.port.ActiveRoomsByClinic(ctx, clinicID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch rooms: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(practitioners)+len(rooms))
	for _, p := range practitioners {
		ids = append(ids, p.ID)
	}
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return nil, NewDirectory(practitioners), nil
	}
	appts, err := e.port.AppointmentsOverlapping(ctx, ids, rng, false)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch appointments: %w", err)
	}
	return appts, NewDirectory(practitioners), nil
}

// ApplyOptimizationStrategy proposes moving the later appointment of each
// conflict in rng to the best alternative slot of the same practitioner and
// room, scored under strategy. Appointments outside rng are never moved but
// still block alternatives. A zero rng covers every appointment. It works on a
// copy and never writes.
func (e *Engine) ApplyOptimizationStrategy(strategy OptimizationStrategy, appointments []Appointment, practitioners []Practitioner, rng TimeInterval) (*OptimizationResult, error) {
	if strategy == "" {
		strategy = StrategyBalanced
	}
	scorer, err := NewSlotScorer(e.cfg, strategy)
	if err != nil {
		return nil, err
	}
	dir := NewDirectory(practitioners)
	work := make([]Appointment, len(appointments))
	copy(work, appointments)
	index := make(map[uuid.UUID]int, len(work))
	considered := 0
	for i, a := range work {
		index[a.ID] = i
		if a.IsLive() && (rng.Start.IsZero() || rng.Overlaps(a.Interval())) {
			considered++
		}
	}

	before := e.detector.Detect(work, rng, dir)
	res := &OptimizationResult{
		Strategy:        strategy,
		Considered:      considered,
		ConflictsBefore: len(before),
		Proposals:       []Proposal{},
	}

	moved := make(map[uuid.UUID]bool)
	for _, c := range before {
		target := c.AppointmentIDs[len(c.AppointmentIDs)-1]
		if moved[target] {
			continue
		}
		if len(c.AppointmentIDs) == 2 {
			a, b := work[index[c.AppointmentIDs[0]]], work[index[target]]
			if !a.Interval().Overlaps(b.Interval()) {
				continue
			}
		}
		i := index[target]
		appt := work[i]
		live := liveWithin(work, TimeInterval{})
		loads := e.cfg.loadOf(live, appt.ID)
		pool := poolOf(dir, live)
		slot, ok := e.detector.findAlternative(appt, live, dir, func(s CandidateSlot) float64 {
			b, _ := scorer.Score(s, appt.Start, nil, loads.context(e.cfg, s.PractitionerID, s.Interval.Start, pool))
			return b.Total
		})
		if !ok {
			continue
		}
		b, _ := scorer.Score(slot, appt.Start, nil, loads.context(e.cfg, slot.PractitionerID, slot.Interval.Start, pool))
		res.Proposals = append(res.Proposals, Proposal{
			AppointmentID: appt.ID,
			From:          appt.Interval(),
			To:            slot.Interval,
			Score:         b.Total,
		})
		work[i].Start, work[i].End = slot.Interval.Start, slot.Interval.End
		moved[target] = true
	}

	after := e.detector.Detect(work, rng, dir)
	res.Changed = len(res.Proposals)
	res.ConflictsAfter = len(after)
	if res.ConflictsResolved = res.ConflictsBefore - res.ConflictsAfter; res.ConflictsResolved < 0 {
		res.ConflictsResolved = 0
	}
	return res, nil
}

type searchRun struct {
	slots      []CandidateSlot
	outcome    SearchOutcome
	window     TimeInterval
	considered int
}

func (e *Engine) search(ctx context.Context, c SlotCriteria) (*searchRun, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	scorer, err := NewSlotScorer(e.cfg, c.Strategy)
	if err != nil {
		return nil, err
	}

	first, last := e.window(c)
	run := &searchRun{window: TimeInterval{Start: first, End: last.AddDate(0, 0, 1)}}

	practitioners, err := e.eligiblePractitioners(ctx, c)
	if err != nil {
		return nil, err
	}
	rooms, err := e.eligibleRooms(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(practitioners) == 0 || len(rooms) == 0 {
		run.outcome = OutcomeNoEligibleResources
		return run, nil
	}
	if first.After(last) {
		run.outcome = OutcomeNoSlotFound
		return run, nil
	}

	ids := make([]uuid.UUID, 0, len(practitioners)+len(rooms))
	pool := make([]uuid.UUID, 0, len(practitioners))
	for _, p := range practitioners {
		ids = append(ids, p.ID)
		pool = append(pool, p.ID)
	}
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	appts, err := e.port.AppointmentsOverlapping(ctx, ids, run.window, false)
	if err != nil {
		return nil, fmt.Errorf("fetch appointments: %w", err)
	}
	booked := make([]BookedInterval, 0, 2*len(appts))
	live := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.IsLive() {
			booked = append(booked, a.BookedIntervals()...)
			live = append(live, a)
		}
	}
	index := NewIntervalIndex(booked)
	loads := e.cfg.loadOf(live, uuid.Nil)

	var excluded []time.Weekday
	if c.Preferences != nil {
		excluded = c.Preferences.ExcludedDays
	}

	type pair struct {
		p Practitioner
		r Room
	}
	pairs := make([]pair, 0, len(practitioners)*len(rooms))
	for _, p := range practitioners {
		for _, r := range rooms {
			pairs = append(pairs, pair{p, r})
		}
	}

	results := make([][]CandidateSlot, len(pairs))
	counts := make([]int, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for i, pr := range pairs {
		g.Go(func() error {
			req := GenerateRequest{
				Practitioner: pr.p,
				Room:         pr.r,
				WindowStart:  first,
				WindowEnd:    last,
				Duration:     c.Duration,
				Booked:       index,
				ExcludedDays: excluded,
				NotBefore:    c.NotBefore,
			}
			var out []CandidateSlot
			for slot := range e.gen.Generate(req) {
				counts[i]++
				if !slot.Available {
					continue
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				scorer.Apply(&slot, c.PreferredDate, c.Preferences, loads.context(e.cfg, pr.p.ID, slot.Interval.Start, pool))
				out = append(out, slot)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, r := range results {
		run.considered += counts[i]
		run.slots = append(run.slots, r...)
	}
	sortSlots(run.slots)
	run.outcome = OutcomeFound
	if len(run.slots) == 0 {
		run.outcome = OutcomeNoSlotFound
	}
	return run, nil
}

// window returns the first and last calendar day searched. Acute priorities
// tighten the window: emergency searches the preferred day only, urgent one
// extra day, high three.
func (e *Engine) window(c SlotCriteria) (time.Time, time.Time) {
	maxDays := e.cfg.SearchDays
	if c.Preferences != nil {
		maxDays = c.Preferences.MaxDaysFromPreferred
		switch c.Preferences.Priority {
		case PriorityEmergency:
			maxDays = 0
		case PriorityUrgent:
			maxDays = min(maxDays, 1)
		case PriorityHigh:
			maxDays = min(maxDays, 3)
		}
	}
	preferred := e.cfg.dayOf(c.PreferredDate)
	first, last := preferred, preferred.AddDate(0, 0, maxDays)
	if !c.Today.IsZero() {
		if today := e.cfg.dayOf(c.Today); first.Before(today) {
			first = today
		}
	}
	return first, last
}

func (e *Engine) eligiblePractitioners(ctx context.Context, c SlotCriteria) ([]Practitioner, error) {
	spec := c.Specialization
	if c.PractitionerID != nil {
		spec = ""
	}
	all, err := e.port.PractitionersByClinic(ctx, c.ClinicID, spec)
	if err != nil {
		return nil, fmt.Errorf("fetch practitioners: %w", err)
	}
	out := make([]Practitioner, 0, len(all))
	for _, p := range all {
		if !p.Active {
			continue
		}
		if c.PractitionerID != nil && p.ID != *c.PractitionerID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (e *Engine) eligibleRooms(ctx context.Context, c SlotCriteria) ([]Room, error) {
	all, err := e.port.ActiveRoomsByClinic(ctx, c.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	out := make([]Room, 0, len(all))
	for _, r := range all {
		if !r.Active {
			continue
		}
		if c.Preferences != nil && c.Preferences.PreferredRoom != nil && r.ID != *c.Preferences.PreferredRoom {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// sortSlots orders by total score descending, then start, practitioner
// and room.
func sortSlots(slots []CandidateSlot) {
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.Scores.Total != b.Scores.Total {
			return a.Scores.Total > b.Scores.Total
		}
		if !a.Interval.Start.Equal(b.Interval.Start) {
			return a.Interval.Start.Before(b.Interval.Start)
		}
		if a.PractitionerID != b.PractitionerID {
			return a.PractitionerID.String() < b.PractitionerID.String()
		}
		return a.RoomID.String() < b.RoomID.String()
	})
}

type loadKey struct {
	practitioner uuid.UUID
	day          string
}

// dayLoads counts live appointments per practitioner and calendar day.
type dayLoads map[loadKey]int

func (c Config) loadOf(live []Appointment, skip uuid.UUID) dayLoads {
	loads := make(dayLoads)
	for _, a := range live {
		if a.ID == skip {
			continue
		}
		loads[loadKey{a.PractitionerID, c.dayOf(a.Start).Format(time.DateOnly)}]++
	}
	return loads
}

func (l dayLoads) context(cfg Config, practitionerID uuid.UUID, at time.Time, pool []uuid.UUID) ScoreContext {
	day := cfg.dayOf(at).Format(time.DateOnly)
	sc := ScoreContext{
		PractitionerLoad: l[loadKey{practitionerID, day}],
		PoolSize:         len(pool),
	}
	if len(pool) == 0 {
		return sc
	}
	total := 0
	for _, id := range pool {
		total += l[loadKey{id, day}]
	}
	sc.PoolMeanLoad = float64(total) / float64(len(pool))
	return sc
}

// poolOf lists the practitioners of dir, or those seen in appts when dir is empty.
func poolOf(dir Directory, appts []Appointment) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var pool []uuid.UUID
	add := func(id uuid.UUID) {
		if id != uuid.Nil && !seen[id] {
			seen[id] = true
			pool = append(pool, id)
		}
	}
	for id := range dir {
		add(id)
	}
	for _, a := range appts {
		add(a.PractitionerID)
	}
	return pool
}
