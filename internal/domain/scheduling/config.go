package scheduling

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds the engine's tunables. The zero value of any field falls back
// to DefaultConfig.
type Config struct {
	// WorkingHours applies to practitioners that declare none.
	WorkingHours WorkingHours
	// Step is the granularity of candidate start times.
	Step time.Duration
	// Location defines calendar days and wall-clock times.
	Location *time.Location
	// SearchDays bounds the window when a request carries no preferences.
	SearchDays int
	// ResolveWindowDays bounds the alternative search used for conflicts
	// and optimization.
	ResolveWindowDays int
	// MaxWorkers caps concurrent (practitioner, room) generation.
	MaxWorkers int
	// NeutralStart and NeutralEnd are the "reasonable hours" used to score
	// slots when a request carries no time preference.
	NeutralStart TimeOfDay
	NeutralEnd   TimeOfDay
	// Noon splits morning from afternoon.
	Noon TimeOfDay
}

func DefaultConfig() Config {
	return Config{
		WorkingHours:      DefaultWorkingHours(),
		Step:              15 * time.Minute,
		Location:          time.UTC,
		SearchDays:        7,
		ResolveWindowDays: 7,
		MaxWorkers:        runtime.GOMAXPROCS(0),
		NeutralStart:      Clock(9, 0),
		NeutralEnd:        Clock(17, 0),
		Noon:              Clock(12, 0),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkingHours.End == 0 {
		c.WorkingHours = d.WorkingHours
	}
	if c.Step <= 0 {
		c.Step = d.Step
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if c.SearchDays <= 0 {
		c.SearchDays = d.SearchDays
	}
	if c.ResolveWindowDays <= 0 {
		c.ResolveWindowDays = d.ResolveWindowDays
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.NeutralEnd == 0 {
		c.NeutralStart, c.NeutralEnd = d.NeutralStart, d.NeutralEnd
	}
	if c.Noon == 0 {
		c.Noon = d.Noon
	}
	return c
}

// Validate checks a fully defaulted configuration.
func (c Config) Validate() error {
	c = c.withDefaults()
	if err := c.WorkingHours.Validate(); err != nil {
		return err
	}
	if c.Step%time.Minute != 0 {
		return fmt.Errorf("%w: step %s is not a whole number of minutes", ErrInvalidRequest, c.Step)
	}
	if c.NeutralStart >= c.NeutralEnd {
		return fmt.Errorf("%w: neutral hours %s-%s", ErrInvalidRequest, c.NeutralStart, c.NeutralEnd)
	}
	return nil
}

// hoursFor returns the practitioner's own working hours or the default.
func (c Config) hoursFor(p Practitioner) WorkingHours {
	if p.WorkingHours != nil && p.WorkingHours.Validate() == nil {
		return *p.WorkingHours
	}
	return c.WorkingHours
}

// dayOf truncates t to midnight of its calendar day in the configured location.
func (c Config) dayOf(t time.Time) time.Time {
	y, m, d := t.In(c.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location)
}

// daysBetween is the absolute number of calendar days between a and b.
func (c Config) daysBetween(a, b time.Time) int {
	da, db := c.dayOf(a), c.dayOf(b)
	ya, ma, dda := da.Date()
	yb, mb, ddb := db.Date()
	// Compare as UTC dates so DST shifts do not skew the count.
	ua := time.Date(ya, ma, dda, 0, 0, 0, 0, time.UTC)
	ub := time.Date(yb, mb, ddb, 0, 0, 0, 0, time.UTC)
	n := int(ub.Sub(ua).Hours() / 24)
	if n < 0 {
		n = -n
	}
	return n
}
