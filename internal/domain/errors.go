package domain

import "errors"

// Error kinds used across the core. Callers classify failures with
// errors.Is; context (instrument, timeframe, year) is attached by wrapping
// with fmt.Errorf("...: %w", Err...).
var (
	// ErrBadTimeframe reports an unknown timeframe code.
	ErrBadTimeframe = errors.New("bad timeframe")

	// ErrUnknownInstrument reports a ticker that cannot be resolved against
	// the store or the provider.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrCorruptStore reports malformed CSV or out-of-order bars in a leaf
	// file.
	ErrCorruptStore = errors.New("corrupt store")

	// ErrGapInData reports a requested window that lacks bars where the
	// operation requires them.
	ErrGapInData = errors.New("gap in data")

	// ErrProviderTransient reports a recoverable provider failure (network,
	// 5xx). Adapters retry these with bounded backoff.
	ErrProviderTransient = errors.New("provider transient error")

	// ErrProviderPermanent reports a non-recoverable provider failure
	// (unknown instrument, 4xx). The affected (instrument, year) is skipped.
	ErrProviderPermanent = errors.New("provider permanent error")

	// ErrAuthFailed reports rejected provider credentials.
	ErrAuthFailed = errors.New("auth failed")

	// ErrExhaustedChart reports an advance past the last bar of a chart.
	ErrExhaustedChart = errors.New("exhausted chart")

	// ErrOrderRejected reports an order the broker refuses to post
	// (non-positive lots, unknown asset, inconsistent bracket).
	ErrOrderRejected = errors.New("order rejected")

	// ErrTestMisconfigured reports an unrunnable test configuration
	// (begin >= end, empty asset list, unknown strategy version).
	ErrTestMisconfigured = errors.New("test misconfigured")

	// ErrConcurrentIngest reports that another ingest run holds the store
	// lock for the same instrument.
	ErrConcurrentIngest = errors.New("concurrent ingest")

	// ErrIO reports a filesystem-level failure.
	ErrIO = errors.New("i/o error")
)
