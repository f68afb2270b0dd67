package util

import (
	"time"
	_ "time/tzdata" // Moscow zone must resolve on hosts without zoneinfo

	"arbat/internal/domain"
)

// moscow is loaded once; MOEX timestamps are declared in MSK and converted
// to UTC at the adapter boundary.
var moscow = mustLoadLocation("Europe/Moscow")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Calendar defines the exchange session boundaries used for bucketing and
// day slicing. All coarse-frame bucketing routes through here so daily and
// weekly alignment stays consistent across the store and the chart.
type Calendar struct {
	loc      *time.Location
	openHour int // main session open, exchange-local
	openMin  int
}

// Moex returns the MOEX equities calendar: main session opens 10:00 MSK
// (07:00 UTC).
func Moex() *Calendar {
	return &Calendar{loc: moscow, openHour: 10, openMin: 0}
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// SessionOpen returns the trading-day open for the day containing t, in UTC.
func (c *Calendar) SessionOpen(t time.Time) time.Time {
	lt := t.In(c.loc)
	open := time.Date(lt.Year(), lt.Month(), lt.Day(), c.openHour, c.openMin, 0, 0, c.loc)
	return open.UTC()
}

// BucketStart returns the start of the tf bucket containing t. Intraday
// frames truncate against UTC midnight; D aligns to the session open, W to
// ISO-week Monday 00:00 UTC, M to the calendar first of month.
func (c *Calendar) BucketStart(tf domain.Timeframe, t time.Time) time.Time {
	if tf.Intraday() {
		return tf.TruncateUTC(t)
	}
	switch tf {
	case domain.TFDay:
		open := c.SessionOpen(t)
		if t.Before(open) {
			open = c.SessionOpen(t.AddDate(0, 0, -1))
		}
		return open
	case domain.TFWeek:
		u := t.UTC()
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday belongs to the week starting the prior Monday
		}
		return day.AddDate(0, 0, -(weekday - 1))
	default: // monthly
		u := t.UTC()
		return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// NextBucket returns the start of the bucket after the one containing t.
func (c *Calendar) NextBucket(tf domain.Timeframe, t time.Time) time.Time {
	start := c.BucketStart(tf, t)
	switch tf {
	case domain.TFDay:
		return c.SessionOpen(start.In(c.loc).AddDate(0, 0, 1))
	case domain.TFWeek:
		return start.AddDate(0, 0, 7)
	case domain.TFMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.Add(tf.Step())
	}
}

// DayBounds returns the [start, end) bounds of the exchange-local calendar
// day containing t, in UTC.
func (c *Calendar) DayBounds(t time.Time) (time.Time, time.Time) {
	lt := t.In(c.loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// SameTradingDay reports whether a and b fall on the same exchange-local
// calendar day.
func (c *Calendar) SameTradingDay(a, b time.Time) bool {
	al, bl := a.In(c.loc), b.In(c.loc)
	return al.Year() == bl.Year() && al.YearDay() == bl.YearDay()
}
