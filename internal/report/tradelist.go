// Package report holds the trade ledger: named trade lists with pure
// attribute filters, the aggregate metrics computed over them, and the CSV
// form those metrics are persisted in.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"arbat/internal/domain"
)

// TradeListExt is the file extension of persisted trade lists.
const TradeListExt = ".tl"

// TradeList is a named ordered collection of trades. Filters derive child
// lists that share trade identity with the parent; the parent is never
// mutated.
type TradeList struct {
	Name   string
	Trades []domain.Trade

	parent *TradeList
}

// NewTradeList builds a root trade list.
func NewTradeList(name string, trades []domain.Trade) *TradeList {
	return &TradeList{Name: name, Trades: trades}
}

// Parent returns the list this one was filtered from, or nil for a root.
func (tl *TradeList) Parent() *TradeList { return tl.parent }

// Len returns the number of trades.
func (tl *TradeList) Len() int { return len(tl.Trades) }

// child derives a filtered list keeping insertion order.
func (tl *TradeList) child(name string, keep func(domain.Trade) bool) *TradeList {
	out := &TradeList{Name: tl.Name + "/" + name, parent: tl}
	for _, t := range tl.Trades {
		if keep(t) {
			out.Trades = append(out.Trades, t)
		}
	}
	return out
}

// SelectLong keeps long-side trades.
func (tl *TradeList) SelectLong() *TradeList {
	return tl.child("long", func(t domain.Trade) bool { return t.IsLong() })
}

// SelectShort keeps short-side trades.
func (tl *TradeList) SelectShort() *TradeList {
	return tl.child("short", func(t domain.Trade) bool { return !t.IsLong() })
}

// SelectWin keeps trades with a strictly positive result.
func (tl *TradeList) SelectWin() *TradeList {
	return tl.child("win", func(t domain.Trade) bool { return t.IsWin() })
}

// SelectLoss keeps trades with a zero or negative result.
func (tl *TradeList) SelectLoss() *TradeList {
	return tl.child("loss", func(t domain.Trade) bool { return !t.IsWin() })
}

// SelectYear keeps trades opened in the given calendar year.
func (tl *TradeList) SelectYear(year int) *TradeList {
	return tl.child(fmt.Sprintf("%d", year), func(t domain.Trade) bool { return t.Year() == year })
}

// SelectAsset keeps trades of one asset.
func (tl *TradeList) SelectAsset(ref domain.AssetRef) *TradeList {
	return tl.child(ref.Ticker, func(t domain.Trade) bool { return t.Asset == ref })
}

// SelectBack keeps the first n trades, the in-sample part of a walk-forward
// split.
func (tl *TradeList) SelectBack(n int) *TradeList {
	if n > len(tl.Trades) {
		n = len(tl.Trades)
	}
	out := &TradeList{Name: tl.Name + "/back", parent: tl}
	out.Trades = append(out.Trades, tl.Trades[:n]...)
	return out
}

// SelectForward keeps the trades from index n on, the out-of-sample part of
// a walk-forward split.
func (tl *TradeList) SelectForward(n int) *TradeList {
	if n > len(tl.Trades) {
		n = len(tl.Trades)
	}
	out := &TradeList{Name: tl.Name + "/forward", parent: tl}
	out.Trades = append(out.Trades, tl.Trades[n:]...)
	return out
}

// Years returns the distinct open years present, ascending.
func (tl *TradeList) Years() []int {
	seen := make(map[int]bool)
	for _, t := range tl.Trades {
		seen[t.Year()] = true
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// Save writes the trade list as a JSON array via a temp file and rename.
func (tl *TradeList) Save(path string) error {
	trades := tl.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal trade list: %v", domain.ErrIO, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}

// LoadTradeList reads a persisted trade list; the list name is the file
// name without its extension.
func LoadTradeList(path string) (*TradeList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	var trades []domain.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("%w: parse trade list %s: %v", domain.ErrIO, path, err)
	}
	name := filepath.Base(path)
	name = name[:len(name)-len(filepath.Ext(name))]
	return NewTradeList(name, trades), nil
}
