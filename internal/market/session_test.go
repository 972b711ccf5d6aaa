package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func et(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	require.NoError(t, err)
	return ts
}

func TestSessionWindows(t *testing.T) {
	cal := NewCalendar(nil)
	// 2026-08-28 is a Friday.
	cases := []struct {
		at   string
		want Session
	}{
		{"2026-08-28 03:59", SessionClosed},
		{"2026-08-28 04:00", SessionPre},
		{"2026-08-28 09:29", SessionPre},
		{"2026-08-28 09:30", SessionRegular},
		{"2026-08-28 15:59", SessionRegular},
		{"2026-08-28 16:00", SessionAfter},
		{"2026-08-28 19:59", SessionAfter},
		{"2026-08-28 20:00", SessionClosed},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, cal.SessionAt(et(t, c.at)), c.at)
	}
}

func TestWeekendClosed(t *testing.T) {
	cal := NewCalendar(nil)
	assert.Equal(t, SessionClosed, cal.SessionAt(et(t, "2026-08-29 12:00")), "saturday")
	assert.Equal(t, SessionClosed, cal.SessionAt(et(t, "2026-08-30 12:00")), "sunday")
}

func TestHolidayClosed(t *testing.T) {
	cal := NewCalendar([]string{"2026-12-25"})
	assert.Equal(t, SessionClosed, cal.SessionAt(et(t, "2026-12-25 12:00")))
	assert.True(t, cal.IsHoliday(et(t, "2026-12-25 12:00")))
	assert.False(t, cal.IsHoliday(et(t, "2026-12-24 12:00")))
}

func TestSessionFromOtherTimezone(t *testing.T) {
	cal := NewCalendar(nil)
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	// 23:00 KST on Friday is 10:00 ET the same Friday (EDT).
	at := time.Date(2026, 8, 28, 23, 0, 0, 0, seoul)
	assert.Equal(t, SessionRegular, cal.SessionAt(at))
}

func TestSessionOpen(t *testing.T) {
	assert.True(t, SessionRegular.Open())
	assert.True(t, SessionPre.Open())
	assert.True(t, SessionAfter.Open())
	assert.False(t, SessionClosed.Open())
}

func TestTradingDayBucketing(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	// Early Saturday morning KST is still Friday in New York.
	at := time.Date(2026, 8, 29, 5, 0, 0, 0, seoul)
	assert.Equal(t, "2026-08-28", TradingDay(at))

	start := StartOfTradingDay(at)
	assert.Equal(t, "2026-08-28 00:00", start.Format("2006-01-02 15:04"))
}
