// Package market tracks US equity market sessions and caches live quote
// state for the evaluation cycle.
package market

import (
	"time"
)

// Session is the trading window in effect at a point in time. It is derived
// from the exchange clock and passed around as a plain value so nothing
// consults wall-clock state behind the caller's back.
type Session string

const (
	SessionClosed  Session = "closed"
	SessionPre     Session = "pre"     // 04:00-09:30 ET
	SessionRegular Session = "regular" // 09:30-16:00 ET
	SessionAfter   Session = "after"   // 16:00-20:00 ET
)

// Open reports whether any trading window is active.
func (s Session) Open() bool { return s != SessionClosed }

var eastern = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Calendar decides which session a moment falls into. Holidays are full-day
// closures on the exchange calendar.
type Calendar struct {
	holidays map[string]struct{} // "2006-01-02" in exchange time
}

// NewCalendar builds a calendar from holiday dates formatted "2006-01-02".
// Unparseable entries are ignored; config validation rejects them upstream.
func NewCalendar(holidays []string) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		if _, err := time.Parse("2006-01-02", h); err == nil {
			c.holidays[h] = struct{}{}
		}
	}
	return c
}

// SessionAt returns the session in effect at t. The instant is converted to
// exchange time first, so callers may pass timestamps from any zone.
func (c *Calendar) SessionAt(t time.Time) Session {
	et := t.In(eastern)

	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionClosed
	}
	if _, closed := c.holidays[et.Format("2006-01-02")]; closed {
		return SessionClosed
	}

	minutes := et.Hour()*60 + et.Minute()
	switch {
	case minutes < 4*60:
		return SessionClosed
	case minutes < 9*60+30:
		return SessionPre
	case minutes < 16*60:
		return SessionRegular
	case minutes < 20*60:
		return SessionAfter
	default:
		return SessionClosed
	}
}

// IsHoliday reports whether the date of t is a configured closure.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[t.In(eastern).Format("2006-01-02")]
	return ok
}

// TradingDay returns the exchange-local date of t, used to bucket daily
// notional totals.
func TradingDay(t time.Time) string {
	return t.In(eastern).Format("2006-01-02")
}

// StartOfTradingDay returns midnight exchange time for the day containing t.
func StartOfTradingDay(t time.Time) time.Time {
	et := t.In(eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, eastern)
}
