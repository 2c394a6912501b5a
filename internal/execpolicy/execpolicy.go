// Package execpolicy classifies virtual timestamps against a US-equity
// market-hours calendar and applies each session's ExecutionPolicy —
// which order types/TIFs are eligible to match in each session — before
// the MatchingEngine ever sees an order.
//
// The calendar is built on *time.Location rather than a pack library: none
// of the example repos carry a market-calendar dependency, and Go's
// standard library already resolves IANA tzdata (including DST
// transitions) correctly, so reaching for a third-party calendar package
// here would add a dependency with no grounding in the corpus. Holiday
// dates are computed rather than tabulated, following the NYSE's published
// fixed holiday rules.
package execpolicy

import (
	"fmt"
	"sync"
	"time"

	"github.com/marketsim/engine/internal/domain"
)

// Session is a classification of a point in time relative to one trading
// day's schedule.
type Session string

const (
	SessionClosed     Session = "CLOSED"
	SessionPremarket   Session = "PREMARKET"
	SessionRegular     Session = "REGULAR"
	SessionAfterhours  Session = "AFTERHOURS"
)

// Calendar classifies timestamps against a fixed daily schedule
// (premarket/regular/afterhours open-close, Mon-Fri) in a named IANA
// timezone, treating NYSE full-day holidays as CLOSED the same as a
// weekend.
type Calendar struct {
	loc             *time.Location
	premarketOpen   time.Duration // offset from local midnight
	regularOpen     time.Duration
	regularClose    time.Duration
	afterhoursClose time.Duration

	holidayMu      sync.Mutex
	holidaysByYear map[int]map[string]bool
}

// NewCalendar builds a Calendar for locationName (e.g. "America/New_York"),
// falling back to UTC if the location cannot be loaded — never fails, per
// the engine's convention that construction-time configuration errors
// degrade rather than abort a session.
func NewCalendar(locationName string) *Calendar {
	loc, err := time.LoadLocation(locationName)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &Calendar{
		loc:             loc,
		premarketOpen:   4 * time.Hour,
		regularOpen:     9*time.Hour + 30*time.Minute,
		regularClose:    16 * time.Hour,
		afterhoursClose: 20 * time.Hour,
		holidaysByYear:  make(map[int]map[string]bool),
	}
}

// Classify returns the Session ts falls into. Weekends and NYSE holidays
// are always CLOSED.
func (c *Calendar) Classify(ts domain.Timestamp) Session {
	local := ts.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return SessionClosed
	}
	if c.isHoliday(local) {
		return SessionClosed
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	elapsed := local.Sub(midnight)

	switch {
	case elapsed < c.premarketOpen:
		return SessionClosed
	case elapsed < c.regularOpen:
		return SessionPremarket
	case elapsed < c.regularClose:
		return SessionRegular
	case elapsed < c.afterhoursClose:
		return SessionAfterhours
	default:
		return SessionClosed
	}
}

// NextMarketOpenAfter returns the next instant Classify(t) == REGULAR,
// scanning forward a day at a time, respecting both weekday and holiday
// rules; used by OPG-TIF orders queued outside regular hours.
func (c *Calendar) NextMarketOpenAfter(ts domain.Timestamp) domain.Timestamp {
	local := ts.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < 14; i++ { // 14-day lookahead comfortably spans any single weekend/holiday gap
		candidate := day.Add(c.regularOpen)
		if candidate.After(ts) {
			wd := candidate.Weekday()
			if wd != time.Saturday && wd != time.Sunday && !c.isHoliday(candidate) {
				return candidate
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return ts
}

// isHoliday reports whether local's calendar date is a full NYSE holiday.
func (c *Calendar) isHoliday(local time.Time) bool {
	year := local.Year()
	c.holidayMu.Lock()
	h, ok := c.holidaysByYear[year]
	if !ok {
		h = holidaysForYear(year, c.loc)
		c.holidaysByYear[year] = h
	}
	c.holidayMu.Unlock()
	return h[dateKey(local)]
}

func dateKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

// holidaysForYear computes the NYSE's full-day market holidays for year in
// loc: New Year's Day, Martin Luther King Jr. Day, Washington's Birthday,
// Good Friday, Memorial Day, Juneteenth (observed from 2022 onward),
// Independence Day, Labor Day, Thanksgiving, and Christmas. Fixed-date
// holidays falling on a weekend are shifted to the nearest weekday per the
// exchange's "observed" convention.
func holidaysForYear(year int, loc *time.Location) map[string]bool {
	h := make(map[string]bool)
	add := func(t time.Time) { h[dateKey(t)] = true }

	add(observedDate(time.Date(year, time.January, 1, 0, 0, 0, 0, loc)))
	add(nthWeekdayOfMonth(year, time.January, time.Monday, 3, loc))
	add(nthWeekdayOfMonth(year, time.February, time.Monday, 3, loc))
	add(goodFriday(year, loc))
	add(lastWeekdayOfMonth(year, time.May, time.Monday, loc))
	if year >= 2022 {
		add(observedDate(time.Date(year, time.June, 19, 0, 0, 0, 0, loc)))
	}
	add(observedDate(time.Date(year, time.July, 4, 0, 0, 0, 0, loc)))
	add(nthWeekdayOfMonth(year, time.September, time.Monday, 1, loc))
	add(nthWeekdayOfMonth(year, time.November, time.Thursday, 4, loc))
	add(observedDate(time.Date(year, time.December, 25, 0, 0, 0, 0, loc)))

	return h
}

// observedDate shifts a fixed-date holiday landing on Saturday to the
// preceding Friday, or on Sunday to the following Monday.
func observedDate(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

// nthWeekdayOfMonth returns the date of the n-th occurrence of weekday in
// month/year (n is 1-indexed).
func nthWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, n int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

// lastWeekdayOfMonth returns the date of the last occurrence of weekday in
// month/year.
func lastWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, loc *time.Location) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	last := firstOfNext.AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// goodFriday returns the Friday preceding Easter Sunday, computed via the
// Meeus/Jones/Butcher Gregorian algorithm.
func goodFriday(year int, loc *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1

	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	return easter.AddDate(0, 0, -2)
}

// ExecutionPolicy gates which order TIFs may be accepted or matched given
// the current session classification.
type ExecutionPolicy struct {
	Calendar *Calendar
	// AllowExtendedHours permits REGULAR-session order types to also match
	// during PREMARKET/AFTERHOURS (most simulations model extended-hours
	// liquidity as thinner rather than absent).
	AllowExtendedHours bool
}

// CanMatch reports whether an order with the given TIF may match at ts. A
// policy with no Calendar admits everything except the auction-bound TIFs,
// which have no open/close instant to anchor to without one.
func (p ExecutionPolicy) CanMatch(ts domain.Timestamp, tif domain.TIF) bool {
	if p.Calendar == nil {
		return tif != domain.TIFOPG && tif != domain.TIFCLS
	}
	sess := p.Calendar.Classify(ts)
	switch tif {
	case domain.TIFOPG:
		return sess == SessionRegular && p.isOpeningInstant(ts)
	case domain.TIFCLS:
		return sess == SessionRegular && p.isClosingInstant(ts)
	default:
		if sess == SessionRegular {
			return true
		}
		return p.AllowExtendedHours && (sess == SessionPremarket || sess == SessionAfterhours)
	}
}

func (p ExecutionPolicy) isOpeningInstant(ts domain.Timestamp) bool {
	local := ts.In(p.Calendar.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Calendar.loc)
	return local.Sub(midnight) == p.Calendar.regularOpen
}

func (p ExecutionPolicy) isClosingInstant(ts domain.Timestamp) bool {
	local := ts.In(p.Calendar.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Calendar.loc)
	return local.Sub(midnight) == p.Calendar.regularClose
}
