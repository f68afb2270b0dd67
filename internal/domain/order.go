package domain

import "time"

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Side is the declared direction of a signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Signal is a strategy's intent to enter a position on a given side with
// declared stop and take reference prices. Each signal produces one entry
// order and a paired bracket managed by the broker.
type Signal struct {
	ID        string    `json:"id"`
	DT        time.Time `json:"dt"`
	Side      Side      `json:"side"`
	Asset     AssetRef  `json:"asset"`
	Strategy  string    `json:"strategy"`
	Version   string    `json:"version"`
	OpenPrice float64   `json:"open_price,omitempty"` // 0 means enter at market
	StopPrice float64   `json:"stop_price"`
	TakePrice float64   `json:"take_price"`
}

// EntryDirection returns BUY for long signals and SELL for short ones.
func (s Signal) EntryDirection() Direction {
	if s.Side == SideShort {
		return Sell
	}
	return Buy
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// Direction is the side of an order or operation.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// OrderKind selects the matching rule applied to an order.
type OrderKind string

const (
	OrderMarket   OrderKind = "MARKET"
	OrderLimit    OrderKind = "LIMIT"
	OrderStop     OrderKind = "STOP"
	OrderWait     OrderKind = "WAIT"     // limit with a bar-time timeout
	OrderTrailing OrderKind = "TRAILING" // ratcheting stop
)

// OrderStatus is a state of the order state machine.
//
//	NEW --submit--> POSTED
//	POSTED --match--> FILLED | --cancel--> CANCELLED | --timeout--> EXPIRED
//	STOP orders pass through TRIGGERED before filling.
//
// FILLED is terminal and emits exactly one Operation.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderPosted    OrderStatus = "POSTED"
	OrderTriggered OrderStatus = "TRIGGERED"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderExpired   OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// OrderRole tells the broker what an order does for its signal's position.
type OrderRole string

const (
	RoleEntry OrderRole = "entry"
	RoleStop  OrderRole = "stop"
	RoleTake  OrderRole = "take"
	RoleClose OrderRole = "close" // market close requested by the driver
)

// Order is a broker-side work item derived from a signal.
type Order struct {
	ID         string
	SignalRef  string
	Role       OrderRole
	Kind       OrderKind
	Direction  Direction
	Instrument Instrument
	Lots       int

	// TriggerPrice is the stop line for STOP and TRAILING orders, the limit
	// price for LIMIT and WAIT orders. Zero for MARKET.
	TriggerPrice float64

	// Timeout bounds WAIT orders in bar time. Zero means no timeout.
	Timeout time.Duration

	// TrailDistance is the gap a TRAILING order keeps between price and its
	// ratcheting stop line.
	TrailDistance float64

	Status     OrderStatus
	PostedAt   time.Time
	ExecPrice  float64
	Commission float64
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Operation is the immutable fill record emitted by the broker, one per
// filled order.
type Operation struct {
	SignalRef  string    `json:"signal_ref"`
	DT         time.Time `json:"dt"`
	Direction  Direction `json:"direction"`
	Asset      AssetRef  `json:"asset"`
	Lots       int       `json:"lots"`
	Quantity   int       `json:"quantity"` // lots * lot size
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"` // quantity * price
	Commission float64   `json:"commission"`
}

// NewOperation builds a fill record for the given instrument, deriving
// quantity and amount from lots and price.
func NewOperation(signalRef string, dt time.Time, dir Direction, inst Instrument, lots int, price, commission float64) Operation {
	qty := lots * inst.Lot
	return Operation{
		SignalRef:  signalRef,
		DT:         dt,
		Direction:  dir,
		Asset:      inst.Ref(),
		Lots:       lots,
		Quantity:   qty,
		Price:      price,
		Amount:     float64(qty) * price,
		Commission: commission,
	}
}
