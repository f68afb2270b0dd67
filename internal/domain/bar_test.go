package domain

import (
	"testing"
	"time"
)

func testBar() Bar {
	return Bar{
		DT:     time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC),
		Open:   105,
		High:   110,
		Low:    100,
		Close:  108,
		Volume: 1000,
	}
}

func TestBarPredicates(t *testing.T) {
	b := testBar()
	if !b.IsBull() || b.IsBear() || b.IsDoji() {
		t.Errorf("bar with close > open should be bull only")
	}

	b.Close = 100
	if !b.IsBear() {
		t.Errorf("bar with close < open should be bear")
	}

	b.Close = b.Open
	if !b.IsDoji() {
		t.Errorf("bar with close == open should be doji")
	}
}

func TestBarValid(t *testing.T) {
	if !testBar().Valid() {
		t.Error("well-formed bar should be valid")
	}

	bad := testBar()
	bad.Low = 106 // above min(open, close)
	if bad.Valid() {
		t.Error("bar with low above body should be invalid")
	}

	bad = testBar()
	bad.Volume = -1
	if bad.Valid() {
		t.Error("bar with negative volume should be invalid")
	}
}

func TestBarRanges(t *testing.T) {
	b := testBar()

	body := b.Body()
	if body.Min() != 105 || body.Max() != 108 {
		t.Errorf("body = [%v, %v], want [105, 108]", body.Min(), body.Max())
	}
	if got := b.UpperWick(); got.Min() != 108 || got.Max() != 110 {
		t.Errorf("upper wick = [%v, %v], want [108, 110]", got.Min(), got.Max())
	}
	if got := b.LowerWick(); got.Min() != 100 || got.Max() != 105 {
		t.Errorf("lower wick = [%v, %v], want [100, 105]", got.Min(), got.Max())
	}
	full := b.Full()
	if full.Min() != 100 || full.Max() != 110 {
		t.Errorf("full = [%v, %v], want [100, 110]", full.Min(), full.Max())
	}

	if full.Mid() != 105 {
		t.Errorf("full mid = %v, want 105", full.Mid())
	}
	if full.WidthAbs() != 10 {
		t.Errorf("full width = %v, want 10", full.WidthAbs())
	}
	// 10 / 105 * 100
	if got := full.WidthPct(); got < 9.5 || got > 9.6 {
		t.Errorf("full width pct = %v, want ~9.52", got)
	}

	if !full.Contains(100) || !full.Contains(110) || !full.Contains(104.5) {
		t.Error("full range should contain its bounds and interior points")
	}
	if full.Contains(99.99) || full.Contains(110.01) {
		t.Error("full range should not contain points outside its bounds")
	}

	// The range keeps a back reference to the source bar.
	if !body.Bar.DT.Equal(b.DT) {
		t.Error("range should retain its source bar")
	}
}

func TestRangesBearBar(t *testing.T) {
	b := testBar()
	b.Open, b.Close = 108, 103

	body := b.Body()
	if body.Min() != 103 || body.Max() != 108 {
		t.Errorf("bear body = [%v, %v], want [103, 108]", body.Min(), body.Max())
	}
	if got := b.LowerWick(); got.Max() != 103 {
		t.Errorf("bear lower wick max = %v, want 103", got.Max())
	}
}
