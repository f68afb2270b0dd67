// Package source fetches historical candles from external market-data
// providers and normalises them into domain bars. Two providers are
// implemented: the MOEX ISS public HTTP API and the Tinkoff history-data
// archive service. Both satisfy the Adapter interface and stream bars
// through a lazy Iterator.
package source

import (
	"context"
	"errors"
	"net/http"
	"time"

	"arbat/internal/domain"
)

// Adapter is the common contract of all market-data providers.
type Adapter interface {
	// Name returns the provider identifier used in paths and logs.
	Name() string
	// ListInstruments returns the tradable instruments the provider knows
	// about, with lot size and price step filled in.
	ListInstruments(ctx context.Context) ([]domain.Instrument, error)
	// FirstDateTime returns the open time of the earliest candle the
	// provider has for the instrument.
	FirstDateTime(ctx context.Context, inst domain.Instrument) (time.Time, error)
	// Candles streams bars with from <= open_time < to in strictly
	// increasing open-time order.
	Candles(ctx context.Context, inst domain.Instrument, tf domain.Timeframe, from, to time.Time) *Iterator
}

// ---------------------------------------------------------------------------
// Iterator
// ---------------------------------------------------------------------------

// Iterator is a lazy, finite, non-restartable stream of bars. Usage follows
// bufio.Scanner:
//
//	for it.Next(ctx) {
//		bar := it.Bar()
//	}
//	if err := it.Err(); err != nil { ... }
//
// Bars arrive in strictly increasing open time; duplicates from the
// underlying provider are dropped.
type Iterator struct {
	fetch func(ctx context.Context) ([]domain.Bar, error)
	buf   []domain.Bar
	pos   int
	cur   domain.Bar
	last  time.Time
	err   error
	done  bool
}

// newIterator wraps a batch-fetching function. fetch returns the next batch
// of bars, or an empty batch when the stream is exhausted.
func newIterator(fetch func(ctx context.Context) ([]domain.Bar, error)) *Iterator {
	return &Iterator{fetch: fetch}
}

// errIterator returns an Iterator that fails immediately with err.
func errIterator(err error) *Iterator {
	return &Iterator{err: err, done: true}
}

// Next advances the iterator. It returns false at the end of the stream or
// on error; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	for {
		for it.pos < len(it.buf) {
			b := it.buf[it.pos]
			it.pos++
			if !it.last.IsZero() && !b.DT.After(it.last) {
				continue // duplicate or out-of-order, drop
			}
			it.cur = b
			it.last = b.DT
			return true
		}

		batch, err := it.fetch(ctx)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if len(batch) == 0 {
			it.done = true
			return false
		}
		it.buf = batch
		it.pos = 0
	}
}

// Bar returns the bar produced by the last successful Next.
func (it *Iterator) Bar() domain.Bar { return it.cur }

// Err returns the first error the iterator hit, if any.
func (it *Iterator) Err() error { return it.err }

// Drain consumes the rest of the iterator into a slice.
func (it *Iterator) Drain(ctx context.Context) ([]domain.Bar, error) {
	var bars []domain.Bar
	for it.Next(ctx) {
		bars = append(bars, it.Bar())
	}
	return bars, it.Err()
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// classifyStatus maps an HTTP response status to the provider error
// taxonomy. A nil return means the status is not an error.
func classifyStatus(code int) error {
	switch {
	case code < 400:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrAuthFailed
	case code == http.StatusNotFound:
		return domain.ErrUnknownInstrument
	case code == http.StatusTooManyRequests:
		return domain.ErrProviderTransient
	case code >= 500:
		return domain.ErrProviderTransient
	default:
		return domain.ErrProviderPermanent
	}
}

// Transient reports whether err is worth retrying. Network-level failures
// (no classified status attached) count as transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrProviderPermanent) ||
		errors.Is(err, domain.ErrUnknownInstrument) ||
		errors.Is(err, domain.ErrAuthFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
