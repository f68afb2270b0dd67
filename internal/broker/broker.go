// Package broker simulates order execution against historical bars. The
// Simulator accepts signals, runs the order state machine per delivered
// bar, manages bracket pairs, and records closed positions as trades.
package broker

import (
	"arbat/internal/domain"
)

// Broker is the order-side contract between the driver and an execution
// venue. The backtest uses the in-memory Simulator; a live implementation
// would talk to a real brokerage behind the same interface.
type Broker interface {
	// Name returns the broker identifier.
	Name() string

	// Submit turns a signal into an entry order. Invalid signals fail with
	// OrderRejected.
	Submit(sig domain.Signal) error

	// OnBar resolves open orders for the instrument against one bar.
	OnBar(inst domain.Instrument, bar domain.Bar)

	// ClosePositions force-closes the instrument's open positions at the
	// bar's close price.
	ClosePositions(inst domain.Instrument, bar domain.Bar, reason domain.CloseReason)

	// ExpireOpenOrders expires every order still unresolved at test end.
	ExpireOpenOrders()

	// Trades returns the closed trades in close order.
	Trades() []domain.Trade
}
