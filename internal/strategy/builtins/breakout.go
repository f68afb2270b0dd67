// Package builtins holds the strategies that ship with the backtester.
package builtins

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"arbat/internal/chart"
	"arbat/internal/domain"
	"arbat/internal/strategy"
)

var _ strategy.Strategy = (*Breakout)(nil)

// Breakout trades range breakouts: when a bar closes above the highest
// high of the preceding lookback window it signals LONG, and when it
// closes below the lowest low it signals SHORT. The stop sits at the far
// side of the breakout bar and the take is a risk multiple away.
type Breakout struct {
	lookback   int
	riskReward float64
}

// NewBreakout creates a Breakout strategy with the given lookback window
// and take-profit risk multiple.
func NewBreakout(lookback int, riskReward float64) *Breakout {
	return &Breakout{lookback: lookback, riskReward: riskReward}
}

// Name returns "breakout".
func (b *Breakout) Name() string { return "breakout" }

// Version returns "1".
func (b *Breakout) Version() string { return "1" }

// OnStart validates the parameters.
func (b *Breakout) OnStart(_ context.Context, _ *strategy.Context) error {
	if b.lookback < 1 || b.riskReward <= 0 {
		return fmt.Errorf("%w: breakout needs lookback >= 1 and positive risk multiple", domain.ErrTestMisconfigured)
	}
	return nil
}

// OnBar checks the closed bar against the lookback extremes and emits at
// most one signal.
func (b *Breakout) OnBar(_ context.Context, sc *strategy.Context, inst domain.Instrument, bar domain.Bar, ch *chart.Chart) error {
	visible := ch.Visible()
	if len(visible) < b.lookback {
		return nil
	}
	window := visible[len(visible)-b.lookback:]

	hi, lo := window[0].High, window[0].Low
	for _, w := range window[1:] {
		if w.High > hi {
			hi = w.High
		}
		if w.Low < lo {
			lo = w.Low
		}
	}

	var sig domain.Signal
	switch {
	case bar.Close > hi:
		risk := bar.Close - bar.Low
		if risk <= 0 {
			return nil
		}
		sig = domain.Signal{
			Side:      domain.SideLong,
			StopPrice: bar.Low,
			TakePrice: bar.Close + b.riskReward*risk,
		}
	case bar.Close < lo:
		risk := bar.High - bar.Close
		if risk <= 0 {
			return nil
		}
		sig = domain.Signal{
			Side:      domain.SideShort,
			StopPrice: bar.High,
			TakePrice: bar.Close - b.riskReward*risk,
		}
	default:
		return nil
	}

	// Signal IDs are a pure function of strategy, instrument and bar so
	// that repeated runs over the same data produce identical artefacts.
	sig.ID = fmt.Sprintf("%s@%s:%s:%s", b.Name(), b.Version(), inst.Ticker, bar.DT.Format(time.RFC3339))
	sig.DT = bar.DT
	sig.Asset = inst.Ref()
	sig.Strategy = b.Name()
	sig.Version = b.Version()

	if scope := sc.Scratch(inst.Ticker); scope != nil {
		if err := bumpCounter(scope, "signals"); err != nil {
			return err
		}
	}
	return sc.Trader.Submit(sig)
}

// OnFinish is a no-op.
func (b *Breakout) OnFinish(_ context.Context, _ *strategy.Context) error { return nil }

func bumpCounter(scope *strategy.Scope, key string) error {
	raw, ok, err := scope.Get(key)
	if err != nil {
		return err
	}
	n := 0
	if ok {
		n, _ = strconv.Atoi(raw)
	}
	return scope.Put(key, strconv.Itoa(n+1))
}
