// Package strategy defines the Strategy contract the backtest driver calls
// into, a Registry of available strategies keyed by name and version, and
// the persistent scratch state strategies may keep between runs.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"arbat/internal/chart"
	"arbat/internal/domain"
)

// Trader accepts signals emitted by a strategy. During a backtest the
// simulated broker sits behind this interface.
type Trader interface {
	Submit(sig domain.Signal) error
}

// Context carries per-run wiring into strategy callbacks: the order
// submission hook, run parameters, and scratch state scoped to the running
// strategy.
type Context struct {
	Trader    Trader
	Timeframe domain.Timeframe
	Deposit   float64
	Lots      int

	state   *State
	name    string
	version string
}

// NewContext builds a strategy context. state may be nil when the strategy
// keeps no persistent scratch data.
func NewContext(trader Trader, tf domain.Timeframe, deposit float64, lots int, state *State, name, version string) *Context {
	return &Context{
		Trader:    trader,
		Timeframe: tf,
		Deposit:   deposit,
		Lots:      lots,
		state:     state,
		name:      name,
		version:   version,
	}
}

// Scratch returns the key-value scope for this strategy and ticker, or nil
// when the run has no state store.
func (c *Context) Scratch(ticker string) *Scope {
	if c.state == nil {
		return nil
	}
	return c.state.Scope(c.name, c.version, ticker)
}

// Strategy is the narrow contract between the driver and a trading
// strategy. OnBar is invoked once per asset per bar of the test timeframe
// in non-decreasing bar-time order; implementations must be deterministic
// functions of the bars seen so far and their scratch state.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string
	// Version distinguishes incompatible revisions of the same strategy.
	Version() string
	// OnStart is called once before the first bar.
	OnStart(ctx context.Context, sc *Context) error
	// OnBar is called for every bar; the chart's head is positioned at the
	// delivered bar.
	OnBar(ctx context.Context, sc *Context, inst domain.Instrument, bar domain.Bar, ch *chart.Chart) error
	// OnFinish is called once after the last bar.
	OnFinish(ctx context.Context, sc *Context) error
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Key addresses a strategy revision.
type Key struct {
	Name    string
	Version string
}

func (k Key) String() string { return k.Name + "@" + k.Version }

// Registry holds the available strategies keyed by (name, version).
type Registry struct {
	strategies map[Key]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[Key]Strategy)}
}

// Register adds a strategy under its own (name, version).
func (r *Registry) Register(s Strategy) {
	r.strategies[Key{s.Name(), s.Version()}] = s
}

// Get retrieves a strategy revision. Unknown revisions fail with
// ErrTestMisconfigured so a mistyped test config surfaces cleanly.
func (r *Registry) Get(name, version string) (Strategy, error) {
	s, ok := r.strategies[Key{name, version}]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %s@%s", domain.ErrTestMisconfigured, name, version)
	}
	return s, nil
}

// List returns all registered revisions sorted by name then version.
func (r *Registry) List() []Key {
	keys := make([]Key, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Version < keys[j].Version
	})
	return keys
}
