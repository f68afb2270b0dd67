package store

import (
	"fmt"
	"sort"
	"time"

	"arbat/internal/domain"
)

// Aggregate rebuilds the target timeframe from the 1M base by bucketing.
// Bucket starts come from the exchange calendar: intraday frames align to
// UTC midnight, D to the trading session open, W to ISO-week Monday, M to
// the calendar first of month. A bucket is emitted only when at least one
// 1M bar exists in it; missing minutes are not synthesised. The rebuild is
// idempotent: the target files are fully replaced.
func (s *CandleStore) Aggregate(inst domain.Instrument, target domain.Timeframe) error {
	if !domain.TF1M.Less(target) {
		return fmt.Errorf("%w: cannot aggregate 1M into %s", domain.ErrBadTimeframe, target)
	}

	base, err := s.LoadBars(inst, domain.TF1M, time.Time{}, maxTime)
	if err != nil {
		return err
	}
	if len(base) == 0 {
		return fmt.Errorf("%w: no 1M bars for %s", domain.ErrGapInData, inst.ID())
	}

	coarse := s.bucketize(base, target)

	ref := inst.Ref()
	if err := s.DeleteTimeframe(ref, target); err != nil {
		return err
	}
	byYear := make(map[int][]domain.Bar)
	for _, b := range coarse {
		byYear[b.DT.Year()] = append(byYear[b.DT.Year()], b)
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		if err := s.ReplaceYear(inst, target, y, byYear[y]); err != nil {
			return err
		}
	}

	s.log.Info("aggregated", "ticker", inst.Ticker, "target", target, "base_bars", len(base), "bars", len(coarse))
	return nil
}

// maxTime is an open upper bound for full-range loads.
var maxTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// bucketize folds 1M bars into coarse bars: first open, max high, min low,
// last close, summed value and volume.
func (s *CandleStore) bucketize(base []domain.Bar, target domain.Timeframe) []domain.Bar {
	var out []domain.Bar
	var cur domain.Bar
	var curStart time.Time
	open := false

	flush := func() {
		if open {
			out = append(out, cur)
			open = false
		}
	}

	for _, b := range base {
		start := s.cal.BucketStart(target, b.DT)
		if !open || !start.Equal(curStart) {
			flush()
			curStart = start
			cur = domain.Bar{
				DT:     start,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Value:  b.Value,
				Volume: b.Volume,
			}
			open = true
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Value += b.Value
		cur.Volume += b.Volume
	}
	flush()
	return out
}
