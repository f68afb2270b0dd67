package domain

import (
	"fmt"
	"time"
)

// Timeframe is the bucket width over which bars are aggregated. The set is
// closed: 1M, 5M, 10M, 1H, D, W, M.
type Timeframe string

const (
	TF1M    Timeframe = "1M"
	TF5M    Timeframe = "5M"
	TF10M   Timeframe = "10M"
	TF1H    Timeframe = "1H"
	TFDay   Timeframe = "D"
	TFWeek  Timeframe = "W"
	TFMonth Timeframe = "M"
)

// timeframeMinutes orders timeframes by duration. Monthly is compared as
// 30 days for ordering only; aggregation uses calendar boundaries.
var timeframeMinutes = map[Timeframe]int{
	TF1M:    1,
	TF5M:    5,
	TF10M:   10,
	TF1H:    60,
	TFDay:   24 * 60,
	TFWeek:  7 * 24 * 60,
	TFMonth: 30 * 24 * 60,
}

// AllTimeframes lists the closed timeframe set in ascending order.
var AllTimeframes = []Timeframe{TF1M, TF5M, TF10M, TF1H, TFDay, TFWeek, TFMonth}

// ParseTimeframe converts a short code into a Timeframe. Unknown codes fail
// with ErrBadTimeframe.
func ParseTimeframe(code string) (Timeframe, error) {
	tf := Timeframe(code)
	if _, ok := timeframeMinutes[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrBadTimeframe, code)
	}
	return tf, nil
}

// Minutes returns the nominal bucket width in minutes.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

// Less orders timeframes by duration.
func (tf Timeframe) Less(other Timeframe) bool {
	return tf.Minutes() < other.Minutes()
}

// Mul returns k bucket widths as a duration. For W and M the result is
// nominal (7 and 30 days) and is meant for timeouts and ordering, not for
// calendar arithmetic.
func (tf Timeframe) Mul(k int) time.Duration {
	return time.Duration(k) * time.Duration(tf.Minutes()) * time.Minute
}

// Step returns one bucket width as a duration. See Mul for the W/M caveat.
func (tf Timeframe) Step() time.Duration {
	return tf.Mul(1)
}

// Intraday reports whether the timeframe is aligned to UTC clock boundaries
// (1M..1H). Coarser frames align to exchange-calendar boundaries.
func (tf Timeframe) Intraday() bool {
	switch tf {
	case TF1M, TF5M, TF10M, TF1H:
		return true
	}
	return false
}

// TruncateUTC returns the start of the bucket containing t for intraday
// timeframes, computed against UTC midnight. Coarser frames are handled by
// the exchange calendar.
func (tf Timeframe) TruncateUTC(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Step())
}

// NextUTC returns the start of the bucket after the one containing t, for
// intraday timeframes.
func (tf Timeframe) NextUTC(t time.Time) time.Time {
	return tf.TruncateUTC(t).Add(tf.Step())
}

func (tf Timeframe) String() string { return string(tf) }
