package domain

import "time"

// CloseReason records what closed a trade's position. Exactly one applies
// per closed trade.
type CloseReason string

const (
	CloseStop   CloseReason = "stop"
	CloseTake   CloseReason = "take"
	CloseMarket CloseReason = "market_close"
	CloseForced CloseReason = "forced_close"
)

// StrategyInfo carries the signal's reference prices into the persisted
// trade record.
type StrategyInfo struct {
	OpenPrice float64 `json:"open_price,omitempty"`
	StopPrice float64 `json:"stop_price"`
	TakePrice float64 `json:"take_price"`
}

// Trade is a closed position plus the emitting signal's metadata. Trades
// are immutable once built and are persisted in trade lists.
type Trade struct {
	Strategy      string       `json:"strategy"`
	Version       string       `json:"version"`
	Side          Side         `json:"side"`
	Asset         AssetRef     `json:"asset"`
	OpenDT        time.Time    `json:"open_dt"`
	CloseDT       time.Time    `json:"close_dt"`
	Reason        CloseReason  `json:"reason"`
	Ops           []Operation  `json:"operations"`
	Info          StrategyInfo `json:"strategy_info"`
	Result        float64      `json:"result"`
	Percent       float64      `json:"percent"`
	PercentPerDay float64      `json:"percent_per_day"`
	HoldingDays   int          `json:"holding_days"`
}

// NewTrade freezes a closed position into a trade record.
func NewTrade(sig Signal, pos *Position, reason CloseReason) Trade {
	return Trade{
		Strategy: sig.Strategy,
		Version:  sig.Version,
		Side:     sig.Side,
		Asset:    sig.Asset,
		OpenDT:   pos.OpenDT(),
		CloseDT:  pos.CloseDT(),
		Reason:   reason,
		Ops:      pos.Ops,
		Info: StrategyInfo{
			OpenPrice: sig.OpenPrice,
			StopPrice: sig.StopPrice,
			TakePrice: sig.TakePrice,
		},
		Result:        pos.Result(),
		Percent:       pos.Percent(),
		PercentPerDay: pos.PercentPerDay(),
		HoldingDays:   pos.HoldingDays(),
	}
}

// IsWin reports a strictly positive result.
func (t Trade) IsWin() bool { return t.Result > 0 }

// IsLong reports a long-side trade.
func (t Trade) IsLong() bool { return t.Side == SideLong }

// Year returns the calendar year of the open timestamp.
func (t Trade) Year() int { return t.OpenDT.Year() }
