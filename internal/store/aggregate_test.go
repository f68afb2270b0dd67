package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbat/internal/domain"
)

// sessionMinutes builds one full trading day of 1M bars: 510 minutes
// from 07:00 UTC (10:00 MSK) through 15:29 UTC.
func sessionMinutes(day time.Time) []domain.Bar {
	start := time.Date(day.Year(), day.Month(), day.Day(), 7, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 510)
	for i := range bars {
		price := 100 + float64(i)*0.01
		bars[i] = domain.Bar{
			DT:     start.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price + 0.5,
			Low:    price - 0.5,
			Close:  price + 0.25,
			Value:  500,
			Volume: int64(i + 1),
		}
	}
	return bars
}

func TestAggregateHourly(t *testing.T) {
	s := newTestStore(t)
	inst := testInstrument()
	day := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	base := sessionMinutes(day)
	if err := s.SaveBars(inst, domain.TF1M, base); err != nil {
		t.Fatal(err)
	}

	if err := s.Aggregate(inst, domain.TF1H); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	bars, err := s.LoadBars(inst, domain.TF1H, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 9 {
		t.Fatalf("hourly bars = %d, want 9", len(bars))
	}

	first := bars[0]
	if !first.DT.Equal(time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("first open time = %v", first.DT)
	}
	if first.Open != base[0].Open {
		t.Errorf("first.Open = %v, want open of 07:00 minute", first.Open)
	}
	if first.Close != base[59].Close {
		t.Errorf("first.Close = %v, want close of 07:59 minute", first.Close)
	}
	wantHigh := base[59].High // highs rise monotonically within the hour
	if first.High != wantHigh {
		t.Errorf("first.High = %v, want %v", first.High, wantHigh)
	}
	wantLow := base[0].Low
	if first.Low != wantLow {
		t.Errorf("first.Low = %v, want %v", first.Low, wantLow)
	}
	var wantVol int64
	for _, b := range base[:60] {
		wantVol += b.Volume
	}
	if first.Volume != wantVol {
		t.Errorf("first.Volume = %d, want %d", first.Volume, wantVol)
	}
	if first.Value != 60*500 {
		t.Errorf("first.Value = %v, want %v", first.Value, 60*500)
	}

	// The 15:00 bucket only has 30 minutes of input.
	last := bars[8]
	if !last.DT.Equal(time.Date(2023, 8, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("last open time = %v", last.DT)
	}
	if last.Close != base[509].Close {
		t.Errorf("last.Close = %v, want close of 15:29 minute", last.Close)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	s := newTestStore(t)
	inst := testInstrument()
	day := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SaveBars(inst, domain.TF1M, sessionMinutes(day)); err != nil {
		t.Fatal(err)
	}

	if err := s.Aggregate(inst, domain.TF1H); err != nil {
		t.Fatal(err)
	}
	leaf := filepath.Join(s.Dir, "MOEX", "SHARE", "AFKS", "1H", "2023.csv")
	first, err := os.ReadFile(leaf)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Aggregate(inst, domain.TF1H); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(leaf)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("repeated aggregation should produce a byte-identical file")
	}
}

func TestAggregateDaily(t *testing.T) {
	s := newTestStore(t)
	inst := testInstrument()
	day := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SaveBars(inst, domain.TF1M, sessionMinutes(day)); err != nil {
		t.Fatal(err)
	}
	if err := s.Aggregate(inst, domain.TFDay); err != nil {
		t.Fatal(err)
	}

	bars, err := s.LoadBars(inst, domain.TFDay, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 {
		t.Fatalf("daily bars = %d, want 1", len(bars))
	}
	// Daily buckets anchor at the session open, not midnight.
	if !bars[0].DT.Equal(time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("daily open time = %v, want 07:00 UTC", bars[0].DT)
	}
}

func TestAggregateRejectsNonUpward(t *testing.T) {
	s := newTestStore(t)
	inst := testInstrument()

	if err := s.Aggregate(inst, domain.TF1M); !errors.Is(err, domain.ErrBadTimeframe) {
		t.Errorf("aggregate to 1M err = %v, want ErrBadTimeframe", err)
	}
}
