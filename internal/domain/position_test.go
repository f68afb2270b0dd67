package domain

import (
	"testing"
	"time"
)

func testInstrument() Instrument {
	return Instrument{
		Exchange:  ExchangeMOEX,
		Class:     ClassShare,
		Ticker:    "SBER",
		Lot:       10,
		PriceStep: 0.01,
	}
}

func TestPositionLifecycle(t *testing.T) {
	inst := testInstrument()
	open := time.Date(2023, 8, 1, 7, 1, 0, 0, time.UTC)
	close := time.Date(2023, 8, 3, 12, 0, 0, 0, time.UTC)

	entry := NewOperation("sig-1", open, Buy, inst, 5, 100.0, 25.0)
	pos := NewPosition(entry)

	if pos.Status != PositionOpen {
		t.Fatalf("position status = %s, want OPEN", pos.Status)
	}
	if pos.NetQuantity() != 50 {
		t.Errorf("net quantity = %d, want 50", pos.NetQuantity())
	}

	exit := NewOperation("sig-1", close, Sell, inst, 5, 110.0, 27.5)
	pos.Add(exit)

	if pos.Status != PositionClose {
		t.Fatalf("position status = %s, want CLOSE after flat", pos.Status)
	}
	if pos.BuyQuantity() != pos.SellQuantity() {
		t.Errorf("closed position should be flat: buy %d, sell %d", pos.BuyQuantity(), pos.SellQuantity())
	}

	// 50*110 - 50*100 - 52.5 commission
	if got, want := pos.Result(), 500.0-52.5; got != want {
		t.Errorf("result = %v, want %v", got, want)
	}
	if got := pos.AvgBuy(); got != 100 {
		t.Errorf("avg buy = %v, want 100", got)
	}
	if got := pos.AvgSell(); got != 110 {
		t.Errorf("avg sell = %v, want 110", got)
	}
	if got := pos.HoldingDays(); got != 2 {
		t.Errorf("holding days = %d, want 2", got)
	}
	if got := pos.Percent(); got != (500.0-52.5)/5000*100 {
		t.Errorf("percent = %v", got)
	}
	if got := pos.PercentPerDay(); got != pos.Percent()/2 {
		t.Errorf("percent per day = %v", got)
	}
}

func TestPositionSameDayHoldIsOneDay(t *testing.T) {
	inst := testInstrument()
	dt := time.Date(2023, 8, 1, 7, 1, 0, 0, time.UTC)

	pos := NewPosition(NewOperation("sig-2", dt, Buy, inst, 1, 100, 0))
	pos.Add(NewOperation("sig-2", dt.Add(2*time.Hour), Sell, inst, 1, 101, 0))

	if got := pos.HoldingDays(); got != 1 {
		t.Errorf("intraday holding days = %d, want 1", got)
	}
}

func TestNewTrade(t *testing.T) {
	inst := testInstrument()
	dt := time.Date(2023, 8, 1, 7, 1, 0, 0, time.UTC)

	sig := Signal{
		ID:        "sig-3",
		DT:        dt,
		Side:      SideLong,
		Asset:     inst.Ref(),
		Strategy:  "breakout",
		Version:   "v1",
		StopPrice: 95,
		TakePrice: 115,
	}
	pos := NewPosition(NewOperation(sig.ID, dt, Buy, inst, 1, 100, 1))
	pos.Add(NewOperation(sig.ID, dt.Add(time.Hour), Sell, inst, 1, 115, 1.15))

	trade := NewTrade(sig, pos, CloseTake)

	if trade.Strategy != "breakout" || trade.Version != "v1" {
		t.Errorf("trade strategy = %s/%s", trade.Strategy, trade.Version)
	}
	if trade.Reason != CloseTake {
		t.Errorf("trade reason = %s, want take", trade.Reason)
	}
	if !trade.IsWin() || !trade.IsLong() {
		t.Error("trade should be a long win")
	}
	if trade.Year() != 2023 {
		t.Errorf("trade year = %d, want 2023", trade.Year())
	}
	if trade.Info.StopPrice != 95 || trade.Info.TakePrice != 115 {
		t.Errorf("strategy info = %+v", trade.Info)
	}
	if len(trade.Ops) != 2 {
		t.Errorf("trade operations = %d, want 2", len(trade.Ops))
	}
	for _, op := range trade.Ops {
		if op.Commission < 0 {
			t.Errorf("operation commission %v is negative", op.Commission)
		}
	}
}
