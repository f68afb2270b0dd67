package asset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"arbat/internal/domain"
	"arbat/internal/store"
)

func ref(ticker string) domain.AssetRef {
	return domain.AssetRef{Exchange: domain.ExchangeMOEX, Class: domain.ClassShare, Ticker: ticker}
}

func TestListRoundTrip(t *testing.T) {
	l := NewList(ref("AFKS"), ref("SBER"), ref("AFKS")) // duplicates allowed
	path := filepath.Join(t.TempDir(), "watch"+ListExt)

	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadList(path)
	if err != nil {
		t.Fatalf("LoadList: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("len = %d, want 3", got.Len())
	}
	for i, r := range got.Refs() {
		if r != l.Refs()[i] {
			t.Errorf("entry %d = %+v, want %+v", i, r, l.Refs()[i])
		}
	}
}

func TestListFileForm(t *testing.T) {
	l := NewList(ref("AFKS"))
	path := filepath.Join(t.TempDir(), "one"+ListExt)
	if err := l.Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `[
  {
    "exchange": "MOEX",
    "asset_class": "SHARE",
    "ticker": "AFKS"
  }
]
`
	if string(data) != want {
		t.Errorf("file form:\n%s\nwant:\n%s", data, want)
	}
}

func TestListMutation(t *testing.T) {
	l := NewList(ref("AFKS"), ref("SBER"), ref("AFKS"))

	if !l.Remove(ref("AFKS")) {
		t.Fatal("Remove should find the first AFKS")
	}
	if l.Len() != 2 || l.Refs()[0] != ref("SBER") {
		t.Errorf("after remove: %+v", l.Refs())
	}
	if !l.Contains(ref("AFKS")) {
		t.Error("second duplicate should survive")
	}
	if l.Remove(ref("GAZP")) {
		t.Error("Remove of absent ref should report false")
	}

	l.Clear()
	if l.Len() != 0 {
		t.Errorf("len after clear = %d", l.Len())
	}
}

func newTestIndex(t *testing.T) (*Index, *store.CandleStore) {
	t.Helper()
	root := t.TempDir()
	s := store.New(filepath.Join(root, "store"), filepath.Join(root, "cache"))
	x, err := OpenIndex(filepath.Join(root, "assets.db"), s)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return x, s
}

func TestIndexResolve(t *testing.T) {
	x, s := newTestIndex(t)
	inst := domain.Instrument{
		Exchange: domain.ExchangeMOEX, Class: domain.ClassShare, Ticker: "AFKS",
		Figi: "BBG004S68614", Lot: 100, PriceStep: 0.001, Name: "AFK Sistema",
	}
	if err := s.WriteInstrument(inst); err != nil {
		t.Fatal(err)
	}
	if err := x.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	got, err := x.Resolve(context.Background(), inst.Ref())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != inst {
		t.Errorf("resolved = %+v, want %+v", got, inst)
	}
}

func TestIndexResolveMissFallsBackToStore(t *testing.T) {
	x, s := newTestIndex(t)
	inst := domain.Instrument{
		Exchange: domain.ExchangeMOEX, Class: domain.ClassShare, Ticker: "SBER",
		Lot: 10, PriceStep: 0.01,
	}
	// Descriptor exists but the index was never rebuilt.
	if err := s.WriteInstrument(inst); err != nil {
		t.Fatal(err)
	}

	got, err := x.Resolve(context.Background(), inst.Ref())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != inst {
		t.Errorf("resolved = %+v", got)
	}
}

func TestIndexResolveUnknown(t *testing.T) {
	x, _ := newTestIndex(t)
	_, err := x.Resolve(context.Background(), ref("NOPE"))
	if !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Errorf("err = %v, want ErrUnknownInstrument", err)
	}
}

func TestResolveList(t *testing.T) {
	x, s := newTestIndex(t)
	for _, ticker := range []string{"AFKS", "SBER"} {
		inst := domain.Instrument{
			Exchange: domain.ExchangeMOEX, Class: domain.ClassShare, Ticker: ticker,
			Lot: 10, PriceStep: 0.01,
		}
		if err := s.WriteInstrument(inst); err != nil {
			t.Fatal(err)
		}
	}
	if err := x.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	insts, err := x.ResolveList(context.Background(), NewList(ref("SBER"), ref("AFKS")))
	if err != nil {
		t.Fatalf("ResolveList: %v", err)
	}
	if len(insts) != 2 || insts[0].Ticker != "SBER" || insts[1].Ticker != "AFKS" {
		t.Errorf("order not preserved: %+v", insts)
	}

	if _, err := x.ResolveList(context.Background(), NewList(ref("GAZP"))); !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Errorf("err = %v, want ErrUnknownInstrument", err)
	}
}
