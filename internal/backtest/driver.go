package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"arbat/internal/broker"
	"arbat/internal/chart"
	"arbat/internal/domain"
	"arbat/internal/report"
	"arbat/internal/store"
	"arbat/internal/strategy"
)

// Driver walks a test's asset charts along a merged timeline, feeding bars
// to the broker and the strategy in a fixed order. Given identical store
// contents and configuration, two runs produce identical trade lists.
type Driver struct {
	store    *store.CandleStore
	registry *strategy.Registry
	state    *strategy.State
	progress func(pct int)
	log      *slog.Logger
}

// NewDriver wires a driver to a candle store and a strategy registry.
func NewDriver(st *store.CandleStore, reg *strategy.Registry) *Driver {
	return &Driver{
		store:    st,
		registry: reg,
		log:      slog.Default().With("component", "driver"),
	}
}

// WithState attaches a persistent scratch store passed into strategy
// contexts. Optional.
func (d *Driver) WithState(s *strategy.State) *Driver {
	d.state = s
	return d
}

// OnProgress registers a callback invoked once per whole percent of
// timeline progress, monotonically from the first bar to 100.
func (d *Driver) OnProgress(fn func(pct int)) {
	d.progress = fn
}

// leg is one instrument's chart walking the merged timeline.
type leg struct {
	inst domain.Instrument
	ch   *chart.Chart
	next int // index of the leg's next undelivered bar
}

// Run executes the test end to end and persists its artefacts. On any
// abort the status flips to EDITED and whatever artefacts exist stay on
// disk; COMPLETE is written only after the trade list and report land.
func (d *Driver) Run(ctx context.Context, t *Test) (rerr error) {
	if err := t.SetStatus(StatusProcess); err != nil {
		return err
	}
	// Any abort leaves prior artefacts in place and flips the test to
	// EDITED; only a full run may write COMPLETE.
	defer func() {
		if rerr != nil {
			if serr := t.SetStatus(StatusEdited); serr != nil {
				d.log.Error("status write failed", "dir", t.Dir(), "error", serr)
			}
		}
	}()

	cfg := t.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if t.Assets.Len() == 0 {
		return fmt.Errorf("%w: empty asset list", domain.ErrTestMisconfigured)
	}
	strat, err := d.registry.Get(cfg.Strategy, cfg.Version)
	if err != nil {
		return err
	}

	legs, err := d.loadLegs(t)
	if err != nil {
		return err
	}
	timeline := mergeTimeline(legs)

	sim := broker.NewSimulator(cfg.Deposit, cfg.CommissionRate, cfg.Lots)
	for _, l := range legs {
		sim.RegisterInstrument(l.inst)
	}
	sctx := strategy.NewContext(sim, cfg.Timeframe, cfg.Deposit, cfg.Lots, d.state, cfg.Strategy, cfg.Version)

	if err := strat.OnStart(ctx, sctx); err != nil {
		return err
	}

	lastPct := -1
	for i, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, l := range legs {
			bars := l.ch.Bars()
			if l.next >= len(bars) || !bars[l.next].DT.Equal(ts) {
				continue
			}
			bar := bars[l.next]
			if err := l.ch.SetHeadIndex(l.next); err != nil {
				return err
			}
			l.next++

			// A bar resolves outstanding orders before the strategy sees it,
			// so fills show up one bar after their signal.
			sim.OnBar(l.inst, bar)

			if err := strat.OnBar(ctx, sctx, l.inst, bar, l.ch); err != nil {
				if errors.Is(err, domain.ErrOrderRejected) {
					d.log.Warn("signal rejected",
						"ticker", l.inst.Ticker, "bar", bar.DT, "error", err)
					continue
				}
				return err
			}
		}
		if pct := (i + 1) * 100 / len(timeline); pct > lastPct {
			lastPct = pct
			if d.progress != nil {
				d.progress(pct)
			}
		}
	}

	// End of history: expire whatever never matched and flatten open
	// positions at each instrument's final close.
	for _, l := range legs {
		bars := l.ch.Bars()
		if len(bars) == 0 {
			continue
		}
		sim.ClosePositions(l.inst, bars[len(bars)-1], domain.CloseForced)
	}
	sim.ExpireOpenOrders()

	if err := strat.OnFinish(ctx, sctx); err != nil {
		return err
	}

	tl := report.NewTradeList(cfg.Name, sim.Trades())
	if err := tl.Save(t.TradeListPath()); err != nil {
		return err
	}
	if err := writeReport(t.ReportPath(), tl); err != nil {
		return err
	}
	return t.SetStatus(StatusComplete)
}

// loadLegs resolves the test's asset list against the store and loads one
// chart per distinct instrument, ticker-sorted for the delivery tie-break.
func (d *Driver) loadLegs(t *Test) ([]*leg, error) {
	seen := make(map[domain.AssetRef]bool)
	var legs []*leg
	for _, ref := range t.Assets.Refs() {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		inst, err := d.store.ReadInstrument(ref)
		if err != nil {
			return nil, err
		}
		ch, err := d.store.Load(inst, t.Config.Timeframe, t.Config.Begin, t.Config.End)
		if err != nil {
			return nil, err
		}
		legs = append(legs, &leg{inst: inst, ch: ch})
	}
	sort.Slice(legs, func(i, j int) bool {
		return legs[i].inst.Ticker < legs[j].inst.Ticker
	})
	return legs, nil
}

// mergeTimeline returns the sorted union of bar open times across legs.
func mergeTimeline(legs []*leg) []time.Time {
	seen := make(map[int64]bool)
	var keys []int64
	for _, l := range legs {
		for _, b := range l.ch.Bars() {
			k := b.DT.UnixNano()
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = time.Unix(0, k).UTC()
	}
	return out
}

func writeReport(path string, tl *report.TradeList) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := report.WriteCSV(f, report.Standard(tl)...); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}
