package broker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbat/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Simulator)(nil)

// Simulator executes orders against historical bars in memory. Matching is
// deterministic: orders resolve in posting order, and when a position's
// stop and take both lie inside one bar the stop fills first.
//
// An order only sees bars strictly after its PostedAt, so a fill becomes
// visible to the strategy at the next bar.
type Simulator struct {
	commissionRate float64
	lots           int
	cash           float64
	entryTimeout   time.Duration // limit entries become WAIT orders when set
	trailingStops  bool          // bracket stops ratchet when set

	orders      []*domain.Order
	signals     map[string]domain.Signal
	instruments map[domain.AssetRef]domain.Instrument
	positions   map[string]*domain.Position // open positions by signal ref
	trades      []domain.Trade
	log         *slog.Logger
}

// NewSimulator creates a Simulator with the given starting cash, commission
// rate and per-signal entry size in lots.
func NewSimulator(deposit, commissionRate float64, lots int) *Simulator {
	return &Simulator{
		commissionRate: commissionRate,
		lots:           lots,
		cash:           deposit,
		signals:        make(map[string]domain.Signal),
		instruments:    make(map[domain.AssetRef]domain.Instrument),
		positions:      make(map[string]*domain.Position),
		log:            slog.Default().With("component", "simulator"),
	}
}

// RegisterInstrument makes an instrument tradable; signals for unregistered
// assets are rejected.
func (b *Simulator) RegisterInstrument(inst domain.Instrument) {
	b.instruments[inst.Ref()] = inst
}

// SetEntryTimeout turns priced entries into WAIT orders that expire after d
// of bar time without a fill.
func (b *Simulator) SetEntryTimeout(d time.Duration) { b.entryTimeout = d }

// SetTrailingStops makes bracket stops trail the price at the distance
// between entry fill and the signal's stop.
func (b *Simulator) SetTrailingStops(on bool) { b.trailingStops = on }

// Name returns "simulator".
func (b *Simulator) Name() string { return "simulator" }

// Cash returns the current cash balance.
func (b *Simulator) Cash() float64 { return b.cash }

// Trades returns the closed trades in close order.
func (b *Simulator) Trades() []domain.Trade { return b.trades }

// Orders returns every order the simulator has seen, in posting order.
func (b *Simulator) Orders() []*domain.Order { return b.orders }

// OpenPositions returns the signal refs of positions still open.
func (b *Simulator) OpenPositions() []*domain.Position {
	open := make([]*domain.Position, 0, len(b.positions))
	for _, o := range b.orders {
		if p, ok := b.positions[o.SignalRef]; ok && o.Role == domain.RoleEntry {
			open = append(open, p)
		}
	}
	return open
}

// Submit validates a signal and posts its entry order: MARKET when the
// signal has no open price, LIMIT at the open price otherwise. A signal
// failing validation still leaves a REJECTED entry order in the book, so
// the audit trail shows what was asked for and turned down.
func (b *Simulator) Submit(sig domain.Signal) error {
	inst, err := b.validate(sig)
	if err != nil {
		b.orders = append(b.orders, &domain.Order{
			ID:           uuid.NewString(),
			SignalRef:    sig.ID,
			Role:         domain.RoleEntry,
			Kind:         domain.OrderMarket,
			Direction:    sig.EntryDirection(),
			Instrument:   inst,
			Lots:         b.lots,
			TriggerPrice: sig.OpenPrice,
			PostedAt:     sig.DT,
			Status:       domain.OrderRejected,
		})
		return err
	}

	kind := domain.OrderMarket
	var timeout time.Duration
	if sig.OpenPrice != 0 {
		kind = domain.OrderLimit
		if b.entryTimeout > 0 {
			kind = domain.OrderWait
			timeout = b.entryTimeout
		}
	}
	b.post(&domain.Order{
		ID:           uuid.NewString(),
		SignalRef:    sig.ID,
		Role:         domain.RoleEntry,
		Kind:         kind,
		Direction:    sig.EntryDirection(),
		Instrument:   inst,
		Lots:         b.lots,
		TriggerPrice: sig.OpenPrice,
		Timeout:      timeout,
		PostedAt:     sig.DT,
	})
	b.signals[sig.ID] = sig
	return nil
}

func (b *Simulator) validate(sig domain.Signal) (domain.Instrument, error) {
	var none domain.Instrument
	if b.lots <= 0 {
		return none, fmt.Errorf("%w: non-positive lots %d", domain.ErrOrderRejected, b.lots)
	}
	if sig.ID == "" {
		return none, fmt.Errorf("%w: signal without id", domain.ErrOrderRejected)
	}
	inst, ok := b.instruments[sig.Asset]
	if !ok {
		return none, fmt.Errorf("%w: unknown asset %q", domain.ErrOrderRejected, sig.Asset.Ticker)
	}
	if sig.StopPrice <= 0 || sig.TakePrice <= 0 {
		return none, fmt.Errorf("%w: bracket prices must be positive", domain.ErrOrderRejected)
	}
	// The bracket must straddle the entry side: for LONG stop below take,
	// for SHORT stop above take.
	if sig.Side == domain.SideLong && sig.StopPrice >= sig.TakePrice {
		return none, fmt.Errorf("%w: long bracket inverted (stop %.4f >= take %.4f)", domain.ErrOrderRejected, sig.StopPrice, sig.TakePrice)
	}
	if sig.Side == domain.SideShort && sig.StopPrice <= sig.TakePrice {
		return none, fmt.Errorf("%w: short bracket inverted (stop %.4f <= take %.4f)", domain.ErrOrderRejected, sig.StopPrice, sig.TakePrice)
	}
	return inst, nil
}

func (b *Simulator) post(o *domain.Order) {
	o.Status = domain.OrderPosted
	b.orders = append(b.orders, o)
}

// OnBar runs the matching rules for every active order of the instrument
// against one bar. The bar is the one closing at its own open time's
// bucket; orders posted at or after the bar's open time wait for the next
// bar.
func (b *Simulator) OnBar(inst domain.Instrument, bar domain.Bar) {
	for _, o := range b.orders {
		if o.Status.Terminal() || !o.Instrument.Same(inst) {
			continue
		}
		if !o.PostedAt.Before(bar.DT) {
			continue
		}
		b.resolve(o, bar)
	}

	// Trailing lines move only after the whole bar has been matched, so a
	// ratchet produced by this bar cannot fill against this bar.
	for _, o := range b.orders {
		if o.Kind != domain.OrderTrailing || o.Status.Terminal() || !o.Instrument.Same(inst) {
			continue
		}
		if !o.PostedAt.Before(bar.DT) {
			continue
		}
		ratchet(o, bar)
	}
}

// resolve applies one bar to one order.
func (b *Simulator) resolve(o *domain.Order, bar domain.Bar) {
	if o.Status.Terminal() {
		return
	}

	// WAIT expiry precedes matching.
	if o.Kind == domain.OrderWait && o.Timeout > 0 && !bar.DT.Before(o.PostedAt.Add(o.Timeout)) {
		o.Status = domain.OrderExpired
		return
	}

	// Pessimistic bracket rule: before a take can fill, its sibling stop
	// gets first claim on the bar.
	if o.Role == domain.RoleTake {
		if stop := b.sibling(o, domain.RoleStop); stop != nil && !stop.Status.Terminal() && stopTriggers(stop, bar) {
			b.fill(stop, stop.TriggerPrice, bar.DT)
			return
		}
	}

	switch o.Kind {
	case domain.OrderMarket:
		b.fill(o, bar.Open, bar.DT)

	case domain.OrderLimit, domain.OrderWait:
		if limitTriggers(o, bar) {
			b.fill(o, o.TriggerPrice, bar.DT)
		}

	case domain.OrderStop:
		if stopTriggers(o, bar) {
			o.Status = domain.OrderTriggered
			b.fill(o, o.TriggerPrice, bar.DT)
		}

	case domain.OrderTrailing:
		if stopTriggers(o, bar) {
			o.Status = domain.OrderTriggered
			b.fill(o, o.TriggerPrice, bar.DT)
		}
	}
}

func limitTriggers(o *domain.Order, bar domain.Bar) bool {
	if o.Direction == domain.Buy {
		return bar.Low <= o.TriggerPrice
	}
	return bar.High >= o.TriggerPrice
}

func stopTriggers(o *domain.Order, bar domain.Bar) bool {
	if o.Direction == domain.Buy {
		return bar.High >= o.TriggerPrice
	}
	return bar.Low <= o.TriggerPrice
}

// ratchet moves a trailing stop in its favourable direction only: a SELL
// trail follows rising prices up, a BUY trail follows falling prices down.
func ratchet(o *domain.Order, bar domain.Bar) {
	if o.TrailDistance <= 0 {
		return
	}
	if o.Direction == domain.Sell {
		if line := bar.High - o.TrailDistance; line > o.TriggerPrice {
			o.TriggerPrice = line
		}
		return
	}
	if line := bar.Low + o.TrailDistance; line < o.TriggerPrice {
		o.TriggerPrice = line
	}
}

// fill transitions an order to FILLED, emits its Operation, settles cash
// and runs the position bookkeeping.
func (b *Simulator) fill(o *domain.Order, price float64, dt time.Time) {
	qtyAmount := float64(o.Lots*o.Instrument.Lot) * price
	commission := qtyAmount * b.commissionRate

	o.Status = domain.OrderFilled
	o.ExecPrice = price
	o.Commission = commission

	op := domain.NewOperation(o.SignalRef, dt, o.Direction, o.Instrument, o.Lots, price, commission)
	if o.Direction == domain.Buy {
		b.cash -= op.Amount + commission
	} else {
		b.cash += op.Amount - commission
	}

	switch o.Role {
	case domain.RoleEntry:
		pos := domain.NewPosition(op)
		b.positions[o.SignalRef] = pos
		b.postBrackets(o)
	default:
		pos, ok := b.positions[o.SignalRef]
		if !ok {
			b.log.Error("fill without open position", "order", o.ID, "signal", o.SignalRef)
			return
		}
		pos.Add(op)
		if pos.Status == domain.PositionClose {
			b.settle(o, pos)
		}
	}
}

// postBrackets places the stop and take pair right after an entry fill,
// stamped with the fill time so they activate from the next bar.
func (b *Simulator) postBrackets(entry *domain.Order) {
	sig, ok := b.signals[entry.SignalRef]
	if !ok {
		b.log.Error("entry fill without signal", "order", entry.ID)
		return
	}
	exit := entry.Direction.Opposite()
	filledAt := b.positions[entry.SignalRef].OpenDT()

	stopKind := domain.OrderStop
	var trail float64
	if b.trailingStops {
		stopKind = domain.OrderTrailing
		trail = entry.ExecPrice - sig.StopPrice
		if trail < 0 {
			trail = -trail
		}
	}
	b.post(&domain.Order{
		ID:            uuid.NewString(),
		SignalRef:     entry.SignalRef,
		Role:          domain.RoleStop,
		Kind:          stopKind,
		Direction:     exit,
		Instrument:    entry.Instrument,
		Lots:          entry.Lots,
		TriggerPrice:  sig.StopPrice,
		TrailDistance: trail,
		PostedAt:      filledAt,
	})
	b.post(&domain.Order{
		ID:           uuid.NewString(),
		SignalRef:    entry.SignalRef,
		Role:         domain.RoleTake,
		Kind:         domain.OrderLimit,
		Direction:    exit,
		Instrument:   entry.Instrument,
		Lots:         entry.Lots,
		TriggerPrice: sig.TakePrice,
		PostedAt:     filledAt,
	})
}

// sibling finds the other bracket order of the same signal.
func (b *Simulator) sibling(o *domain.Order, role domain.OrderRole) *domain.Order {
	for _, other := range b.orders {
		if other.SignalRef == o.SignalRef && other.Role == role && other != o {
			return other
		}
	}
	return nil
}

// settle converts a closed position into a trade and cancels the surviving
// bracket order.
func (b *Simulator) settle(closer *domain.Order, pos *domain.Position) {
	for _, other := range b.orders {
		if other.SignalRef == closer.SignalRef && other != closer && !other.Status.Terminal() {
			other.Status = domain.OrderCancelled
		}
	}

	sig := b.signals[closer.SignalRef]
	reason := closeReason(closer)
	b.trades = append(b.trades, domain.NewTrade(sig, pos, reason))
	delete(b.positions, closer.SignalRef)

	b.log.Debug("position closed",
		"ticker", sig.Asset.Ticker,
		"signal", sig.ID,
		"reason", string(reason),
		"result", pos.Result(),
	)
}

func closeReason(closer *domain.Order) domain.CloseReason {
	switch closer.Role {
	case domain.RoleStop:
		return domain.CloseStop
	case domain.RoleTake:
		return domain.CloseTake
	default: // RoleClose and anything unexpected
		return domain.CloseMarket
	}
}

// ClosePositions force-closes every open position of the instrument by
// posting a CLOSE market order per position and filling it at the bar's
// close price. Positions close in entry posting order to keep the trade
// list deterministic.
func (b *Simulator) ClosePositions(inst domain.Instrument, bar domain.Bar, reason domain.CloseReason) {
	for _, entry := range b.orders {
		if entry.Role != domain.RoleEntry {
			continue
		}
		ref := entry.SignalRef
		pos, open := b.positions[ref]
		if !open {
			continue
		}
		sig := b.signals[ref]
		if sig.Asset != inst.Ref() {
			continue
		}
		dir := sig.EntryDirection().Opposite()
		lots := pos.BuyQuantity() / inst.Lot
		if dir == domain.Buy {
			lots = pos.SellQuantity() / inst.Lot
		}

		// Surviving brackets die before the close order posts so the close
		// is the only live order of the signal.
		for _, o := range b.orders {
			if o.SignalRef == ref && !o.Status.Terminal() {
				o.Status = domain.OrderCancelled
			}
		}

		qtyAmount := float64(lots*inst.Lot) * bar.Close
		commission := qtyAmount * b.commissionRate
		closer := &domain.Order{
			ID:         uuid.NewString(),
			SignalRef:  ref,
			Role:       domain.RoleClose,
			Kind:       domain.OrderMarket,
			Direction:  dir,
			Instrument: inst,
			Lots:       lots,
			PostedAt:   bar.DT,
			Status:     domain.OrderFilled,
			ExecPrice:  bar.Close,
			Commission: commission,
		}
		b.orders = append(b.orders, closer)

		op := domain.NewOperation(ref, bar.DT, dir, inst, lots, bar.Close, commission)
		if dir == domain.Buy {
			b.cash -= op.Amount + commission
		} else {
			b.cash += op.Amount - commission
		}
		pos.Add(op)

		b.trades = append(b.trades, domain.NewTrade(sig, pos, reason))
		delete(b.positions, ref)
	}
}

// ExpireOpenOrders expires every order still unresolved, including entries
// that never filled.
func (b *Simulator) ExpireOpenOrders() {
	for _, o := range b.orders {
		if !o.Status.Terminal() {
			o.Status = domain.OrderExpired
		}
	}
}
