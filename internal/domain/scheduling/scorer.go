package scheduling

import (
	"fmt"
	"math"
	"time"
)

// Sub-score caps under balanced weights. They sum to 100.
const (
	maxProximity      = 40
	maxTimePreference = 30
	maxUtilization    = 20
	maxWorkload       = 10
)

// ScoreWeights multiply the sub-scores before renormalization.
type ScoreWeights struct {
	Proximity      float64
	TimePreference float64
	Utilization    float64
	Workload       float64
}

var strategyWeights = map[OptimizationStrategy]ScoreWeights{
	StrategyBalanced:            {Proximity: 1, TimePreference: 1, Utilization: 1, Workload: 1},
	StrategyMaximizeUtilization: {Proximity: 1, TimePreference: 1, Utilization: 3, Workload: 1},
	StrategyMinimizeGaps:        {Proximity: 2, TimePreference: 0.5, Utilization: 2, Workload: 0.5},
	StrategyPatientPreference:   {Proximity: 2, TimePreference: 2, Utilization: 1, Workload: 1},
	StrategyDoctorWorkload:      {Proximity: 1, TimePreference: 1, Utilization: 1, Workload: 3},
}

// WeightsFor returns the weights of a strategy; empty means balanced.
func WeightsFor(s OptimizationStrategy) (ScoreWeights, error) {
	if s == "" {
		s = StrategyBalanced
	}
	w, ok := strategyWeights[s]
	if !ok {
		return ScoreWeights{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidRequest, s)
	}
	return w, nil
}

// ScoreContext carries the load figures a slot is scored against.
type ScoreContext struct {
	// PractitionerLoad is the number of live appointments the slot's
	// practitioner already has that day.
	PractitionerLoad int
	// PoolMeanLoad is the mean same-day load across the eligible practitioners.
	PoolMeanLoad float64
	PoolSize     int
}

// SlotScorer computes composite optimality scores. It is immutable and safe
// for concurrent use.
type SlotScorer struct {
	cfg     Config
	weights ScoreWeights
	scale   float64
}

func NewSlotScorer(cfg Config, strategy OptimizationStrategy) (*SlotScorer, error) {
	w, err := WeightsFor(strategy)
	if err != nil {
		return nil, err
	}
	weightedMax := w.Proximity*maxProximity + w.TimePreference*maxTimePreference +
		w.Utilization*maxUtilization + w.Workload*maxWorkload
	return &SlotScorer{cfg: cfg.withDefaults(), weights: w, scale: 100 / weightedMax}, nil
}

// Apply scores slot in place.
func (s *SlotScorer) Apply(slot *CandidateSlot, preferredDate time.Time, prefs *SchedulingPreferences, sc ScoreContext) {
	slot.Scores, slot.Factors = s.Score(*slot, preferredDate, prefs, sc)
}

// Score returns the breakdown for slot and one explanatory line per sub-score.
// The result depends only on its arguments.
func (s *SlotScorer) Score(slot CandidateSlot, preferredDate time.Time, prefs *SchedulingPreferences, sc ScoreContext) (ScoreBreakdown, []string) {
	days := s.cfg.daysBetween(slot.Interval.Start, preferredDate)
	prox := proximityScore(days)
	tp, tpWhy := s.timePreference(slot, prefs)
	util := utilizationScore(sc.PractitionerLoad)
	wl := workloadScore(sc)

	b := ScoreBreakdown{
		Proximity:      s.weigh(prox, s.weights.Proximity),
		TimePreference: s.weigh(tp, s.weights.TimePreference),
		Utilization:    s.weigh(util, s.weights.Utilization),
		Workload:       s.weigh(wl, s.weights.Workload),
	}
	b.Total = clamp(b.Proximity+b.TimePreference+b.Utilization+b.Workload, 0, 100)

	factors := []string{
		fmt.Sprintf("proximity %.2f/%.2f: %d day(s) from preferred date", b.Proximity, s.cap(maxProximity, s.weights.Proximity), days),
		fmt.Sprintf("time preference %.2f/%.2f: %s", b.TimePreference, s.cap(maxTimePreference, s.weights.TimePreference), tpWhy),
		fmt.Sprintf("utilization %.2f/%.2f: practitioner has %d appointment(s) that day", b.Utilization, s.cap(maxUtilization, s.weights.Utilization), sc.PractitionerLoad),
		fmt.Sprintf("workload %.2f/%.2f: load %d vs pool mean %.2f over %d practitioner(s)", b.Workload, s.cap(maxWorkload, s.weights.Workload), sc.PractitionerLoad, sc.PoolMeanLoad, sc.PoolSize),
	}
	return b, factors
}

func (s *SlotScorer) weigh(raw, weight float64) float64 {
	return math.Floor(raw*weight*s.scale*100) / 100
}

func (s *SlotScorer) cap(limit, weight float64) float64 {
	return s.weigh(limit, weight)
}

// proximityScore decays linearly by 5 points a day and saturates at 0 after 8 days.
func proximityScore(days int) float64 {
	return math.Max(0, float64(maxProximity-5*days))
}

func (s *SlotScorer) timePreference(slot CandidateSlot, prefs *SchedulingPreferences) (float64, string) {
	start := TimeOfDayOf(slot.Interval.Start.In(s.cfg.Location))
	end := start + TimeOfDay(slot.Interval.Duration()/time.Minute)

	if !prefs.hasTimePreference() {
		if start >= s.cfg.NeutralStart && end <= s.cfg.NeutralEnd {
			return 25, fmt.Sprintf("within standard hours %s-%s", s.cfg.NeutralStart, s.cfg.NeutralEnd)
		}
		return 15, fmt.Sprintf("outside standard hours %s-%s", s.cfg.NeutralStart, s.cfg.NeutralEnd)
	}

	wd := slot.Interval.Start.In(s.cfg.Location).Weekday()
	onPreferredDay := len(prefs.PreferredDays) == 0 || containsWeekday(prefs.PreferredDays, wd)
	hasWindow := prefs.PreferredStart != nil || prefs.PreferredEnd != nil || len(prefs.PreferredDays) > 0
	inWindow := (prefs.PreferredStart == nil || start >= *prefs.PreferredStart) &&
		(prefs.PreferredEnd == nil || end <= *prefs.PreferredEnd)
	if hasWindow && inWindow && onPreferredDay {
		return 30, "matches preferred time window"
	}
	if prefs.PreferMorning && start < s.cfg.Noon {
		return 20, "matches morning preference"
	}
	if prefs.PreferAfternoon && start >= s.cfg.Noon {
		return 20, "matches afternoon preference"
	}
	return 10, "does not match stated preferences"
}

func (p *SchedulingPreferences) hasTimePreference() bool {
	if p == nil {
		return false
	}
	return p.PreferredStart != nil || p.PreferredEnd != nil || len(p.PreferredDays) > 0 ||
		p.PreferMorning || p.PreferAfternoon
}

func utilizationScore(load int) float64 {
	switch {
	case load <= 2:
		return 20
	case load <= 4:
		return 15
	case load <= 6:
		return 10
	case load <= 8:
		return 5
	default:
		return 0
	}
}

// workloadScore favours practitioners below the pool mean: 10 at zero load,
// 5 at the mean and 0 at twice the mean or more.
func workloadScore(sc ScoreContext) float64 {
	if sc.PoolSize <= 1 || sc.PoolMeanLoad <= 0 {
		return maxWorkload
	}
	ratio := (2*sc.PoolMeanLoad - float64(sc.PractitionerLoad)) / (2 * sc.PoolMeanLoad)
	return maxWorkload * clamp(ratio, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
