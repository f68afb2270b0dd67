// Package chart provides a bounded, cursor-equipped window over stored bars
// for one (instrument, timeframe). The head index designates the exclusive
// upper bound of the visible prefix; the backtest driver advances it one bar
// at a time.
package chart

import (
	"fmt"
	"sort"
	"time"

	"arbat/internal/domain"
	"arbat/internal/util"
)

// Chart is a time-bounded window of bars with an advancing "now" head.
// Invariants: 0 <= head <= len(bars); bars are strictly increasing by open
// time.
type Chart struct {
	Instrument domain.Instrument
	TF         domain.Timeframe
	Begin      time.Time
	End        time.Time

	bars []domain.Bar
	head int
	cal  *util.Calendar
}

// New builds a chart over the given bars, which must be sorted by strictly
// increasing open time. The head starts at 0 (nothing visible yet).
func New(inst domain.Instrument, tf domain.Timeframe, begin, end time.Time, bars []domain.Bar) *Chart {
	return &Chart{
		Instrument: inst,
		TF:         tf,
		Begin:      begin,
		End:        end,
		bars:       bars,
		cal:        util.Moex(),
	}
}

// Len returns the total number of bars in the window.
func (c *Chart) Len() int { return len(c.bars) }

// Bars returns the full bar slice. Callers must not mutate it.
func (c *Chart) Bars() []domain.Bar { return c.bars }

// Head returns the current head index.
func (c *Chart) Head() int { return c.head }

// First returns the first bar of the window.
func (c *Chart) First() (domain.Bar, bool) {
	if len(c.bars) == 0 {
		return domain.Bar{}, false
	}
	return c.bars[0], true
}

// Now returns the bar at the head, the one about to become visible.
func (c *Chart) Now() (domain.Bar, bool) {
	if c.head < 0 || c.head >= len(c.bars) {
		return domain.Bar{}, false
	}
	return c.bars[c.head], true
}

// Last returns the most recent visible bar, the one just before the head.
func (c *Chart) Last() (domain.Bar, bool) {
	if c.head == 0 || c.head > len(c.bars) {
		return domain.Bar{}, false
	}
	return c.bars[c.head-1], true
}

// Visible returns the visible prefix bars[0:head].
func (c *Chart) Visible() []domain.Bar { return c.bars[:c.head] }

// SetHeadIndex positions the head at i.
func (c *Chart) SetHeadIndex(i int) error {
	if i < 0 || i > len(c.bars) {
		return fmt.Errorf("head index %d out of range [0, %d]", i, len(c.bars))
	}
	c.head = i
	return nil
}

// SetHeadTime positions the head at the bar with the largest open time not
// after t ("left-of" semantics). If every bar opens after t the head goes
// to 0.
func (c *Chart) SetHeadTime(t time.Time) {
	c.head = c.anchor(t)
}

// anchor returns the index of the last bar with open time <= t, or 0 when
// there is none.
func (c *Chart) anchor(t time.Time) int {
	// First bar opening strictly after t.
	i := sort.Search(len(c.bars), func(i int) bool {
		return c.bars[i].DT.After(t)
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

// BarAt returns the bar anchoring t: the one with the largest open time not
// after t. Used by trade annotation; shares tie-break semantics with
// SetHeadTime.
func (c *Chart) BarAt(t time.Time) (domain.Bar, bool) {
	if len(c.bars) == 0 || c.bars[0].DT.After(t) {
		return domain.Bar{}, false
	}
	return c.bars[c.anchor(t)], true
}

// Advance moves the head forward one bar. It fails with ErrExhaustedChart
// past the end of the window.
func (c *Chart) Advance() error {
	if c.head >= len(c.bars) {
		return fmt.Errorf("%w: %s %s", domain.ErrExhaustedChart, c.Instrument.ID(), c.TF)
	}
	c.head++
	return nil
}

// BarsToday returns the bars belonging to the exchange-local calendar day
// of the current "now" bar.
func (c *Chart) BarsToday() []domain.Bar {
	now, ok := c.Now()
	if !ok {
		return nil
	}
	dayStart, dayEnd := c.cal.DayBounds(now.DT)

	lo := sort.Search(len(c.bars), func(i int) bool {
		return !c.bars[i].DT.Before(dayStart)
	})
	hi := sort.Search(len(c.bars), func(i int) bool {
		return !c.bars[i].DT.Before(dayEnd)
	})
	return c.bars[lo:hi]
}

// Update appends tail bars to the window. Every appended bar must open
// strictly after the current last bar; used by the live path.
func (c *Chart) Update(tail []domain.Bar) error {
	for _, b := range tail {
		if n := len(c.bars); n > 0 && !c.bars[n-1].DT.Before(b.DT) {
			return fmt.Errorf("out-of-order update bar %s at %s", c.Instrument.ID(), b.DT)
		}
		c.bars = append(c.bars, b)
	}
	return nil
}
