package domain

import "time"

// PositionStatus flips exactly once, from OPEN to CLOSE.
type PositionStatus string

const (
	PositionOpen  PositionStatus = "OPEN"
	PositionClose PositionStatus = "CLOSE"
)

// Position aggregates the operations sharing one signal. It opens with the
// first operation and closes when the signed quantity returns to zero.
type Position struct {
	SignalRef string         `json:"signal_ref"`
	Status    PositionStatus `json:"status"`
	Ops       []Operation    `json:"operations"`
}

// NewPosition opens a position with its first operation.
func NewPosition(op Operation) *Position {
	return &Position{
		SignalRef: op.SignalRef,
		Status:    PositionOpen,
		Ops:       []Operation{op},
	}
}

// Add appends an operation; if the signed quantity returns to zero the
// position closes.
func (p *Position) Add(op Operation) {
	p.Ops = append(p.Ops, op)
	if p.NetQuantity() == 0 {
		p.Status = PositionClose
	}
}

// NetQuantity returns buy quantity minus sell quantity.
func (p *Position) NetQuantity() int {
	net := 0
	for _, op := range p.Ops {
		if op.Direction == Buy {
			net += op.Quantity
		} else {
			net -= op.Quantity
		}
	}
	return net
}

// BuyQuantity returns the total bought quantity.
func (p *Position) BuyQuantity() int {
	q := 0
	for _, op := range p.Ops {
		if op.Direction == Buy {
			q += op.Quantity
		}
	}
	return q
}

// SellQuantity returns the total sold quantity.
func (p *Position) SellQuantity() int {
	q := 0
	for _, op := range p.Ops {
		if op.Direction == Sell {
			q += op.Quantity
		}
	}
	return q
}

// BuyAmount returns the total bought amount.
func (p *Position) BuyAmount() float64 {
	a := 0.0
	for _, op := range p.Ops {
		if op.Direction == Buy {
			a += op.Amount
		}
	}
	return a
}

// SellAmount returns the total sold amount.
func (p *Position) SellAmount() float64 {
	a := 0.0
	for _, op := range p.Ops {
		if op.Direction == Sell {
			a += op.Amount
		}
	}
	return a
}

// AvgBuy returns the volume-weighted average buy price, or 0 when nothing
// was bought.
func (p *Position) AvgBuy() float64 {
	q := p.BuyQuantity()
	if q == 0 {
		return 0
	}
	return p.BuyAmount() / float64(q)
}

// AvgSell returns the volume-weighted average sell price, or 0 when nothing
// was sold.
func (p *Position) AvgSell() float64 {
	q := p.SellQuantity()
	if q == 0 {
		return 0
	}
	return p.SellAmount() / float64(q)
}

// Commission returns the total commission charged across operations.
func (p *Position) Commission() float64 {
	c := 0.0
	for _, op := range p.Ops {
		c += op.Commission
	}
	return c
}

// Result returns the realised result: sell amount minus buy amount minus
// total commission. Meaningful once the position is closed.
func (p *Position) Result() float64 {
	return p.SellAmount() - p.BuyAmount() - p.Commission()
}

// OpenDT returns the timestamp of the first operation.
func (p *Position) OpenDT() time.Time {
	if len(p.Ops) == 0 {
		return time.Time{}
	}
	return p.Ops[0].DT
}

// CloseDT returns the timestamp of the last operation.
func (p *Position) CloseDT() time.Time {
	if len(p.Ops) == 0 {
		return time.Time{}
	}
	return p.Ops[len(p.Ops)-1].DT
}

// HoldingDays returns the holding period in whole days, at least 1 for a
// closed position.
func (p *Position) HoldingDays() int {
	if len(p.Ops) == 0 {
		return 0
	}
	days := int(p.CloseDT().Sub(p.OpenDT()).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}

// Percent returns the result as a percentage of the buy amount.
func (p *Position) Percent() float64 {
	buy := p.BuyAmount()
	if buy == 0 {
		return 0
	}
	return p.Result() / buy * 100
}

// PercentPerDay returns Percent divided by the holding period.
func (p *Position) PercentPerDay() float64 {
	days := p.HoldingDays()
	if days == 0 {
		return 0
	}
	return p.Percent() / float64(days)
}
