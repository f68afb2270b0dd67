// Package domain holds the core value types of the backtesting platform:
// bars, timeframes, instruments, orders, operations, positions, trades,
// signals, and the shared error kinds.
package domain

import "time"

// Bar is an immutable OHLCV record over one timeframe bucket. DT is the
// bucket open time in UTC. Value is the traded turnover in currency,
// Volume the traded quantity in units.
type Bar struct {
	DT     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Value  float64
	Volume int64
}

// IsBull reports close > open.
func (b Bar) IsBull() bool { return b.Close > b.Open }

// IsBear reports close < open.
func (b Bar) IsBear() bool { return b.Close < b.Open }

// IsDoji reports close == open.
func (b Bar) IsDoji() bool { return b.Close == b.Open }

// Valid reports whether the bar satisfies the OHLC ordering invariant and
// has non-negative volume.
func (b Bar) Valid() bool {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return b.Low <= lo && hi <= b.High && b.Volume >= 0
}

// ---------------------------------------------------------------------------
// Price ranges
// ---------------------------------------------------------------------------

// Range is a price interval derived from a bar. It keeps the source bar so
// annotations downstream can reach the originating candle.
type Range struct {
	Lo  float64
	Hi  float64
	Bar Bar
}

// Body returns the open..close interval.
func (b Bar) Body() Range {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return Range{Lo: lo, Hi: hi, Bar: b}
}

// UpperWick returns the interval above the body up to the high.
func (b Bar) UpperWick() Range {
	return Range{Lo: b.Body().Hi, Hi: b.High, Bar: b}
}

// LowerWick returns the interval from the low up to the body.
func (b Bar) LowerWick() Range {
	return Range{Lo: b.Low, Hi: b.Body().Lo, Bar: b}
}

// Full returns the low..high interval.
func (b Bar) Full() Range {
	return Range{Lo: b.Low, Hi: b.High, Bar: b}
}

// Min returns the lower bound of the range.
func (r Range) Min() float64 { return r.Lo }

// Max returns the upper bound of the range.
func (r Range) Max() float64 { return r.Hi }

// Mid returns the midpoint of the range.
func (r Range) Mid() float64 { return (r.Lo + r.Hi) / 2 }

// WidthAbs returns the absolute width of the range.
func (r Range) WidthAbs() float64 { return r.Hi - r.Lo }

// WidthPct returns the width relative to the source bar's midpoint, in
// percent.
func (r Range) WidthPct() float64 {
	mid := r.Bar.Full().Mid()
	if mid == 0 {
		return 0
	}
	return r.WidthAbs() / mid * 100
}

// Contains reports Lo <= p <= Hi.
func (r Range) Contains(p float64) bool { return r.Lo <= p && p <= r.Hi }
