package strategy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"arbat/internal/chart"
	"arbat/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name    string
	version string
}

func (s *stubStrategy) Name() string    { return s.name }
func (s *stubStrategy) Version() string { return s.version }
func (s *stubStrategy) OnStart(_ context.Context, _ *Context) error {
	return nil
}
func (s *stubStrategy) OnBar(_ context.Context, _ *Context, _ domain.Instrument, _ domain.Bar, _ *chart.Chart) error {
	return nil
}
func (s *stubStrategy) OnFinish(_ context.Context, _ *Context) error {
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "breakout", version: "1"})
	r.Register(&stubStrategy{name: "breakout", version: "2"})

	got, err := r.Get("breakout", "2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version() != "2" {
		t.Errorf("Get returned version %q, want %q", got.Version(), "2")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "breakout", version: "1"})

	_, err := r.Get("breakout", "7")
	if !errors.Is(err, domain.ErrTestMisconfigured) {
		t.Errorf("err = %v, want ErrTestMisconfigured", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubStrategy{name: "momentum", version: "1"})
	r.Register(&stubStrategy{name: "breakout", version: "2"})
	r.Register(&stubStrategy{name: "breakout", version: "1"})

	keys := r.List()
	want := []Key{{"breakout", "1"}, {"breakout", "2"}, {"momentum", "1"}}
	if len(keys) != len(want) {
		t.Fatalf("List returned %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func openTestState(t *testing.T) *State {
	t.Helper()
	st, err := OpenState(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenState: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStateScopeIsolation(t *testing.T) {
	st := openTestState(t)
	a := st.Scope("breakout", "1", "AFKS")
	b := st.Scope("breakout", "2", "AFKS")
	c := st.Scope("breakout", "1", "SBER")

	if err := a.Put("hwm", "16.5"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := a.Get("hwm")
	if err != nil || !ok || got != "16.5" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	// Other versions and tickers see nothing.
	if _, ok, _ := b.Get("hwm"); ok {
		t.Error("version 2 scope leaked into version 1 data")
	}
	if _, ok, _ := c.Get("hwm"); ok {
		t.Error("SBER scope leaked into AFKS data")
	}
}

func TestStatePutReplaceDelete(t *testing.T) {
	st := openTestState(t)
	sc := st.Scope("breakout", "1", "AFKS")

	if err := sc.Put("k", "1"); err != nil {
		t.Fatal(err)
	}
	if err := sc.Put("k", "2"); err != nil {
		t.Fatal(err)
	}
	got, _, _ := sc.Get("k")
	if got != "2" {
		t.Errorf("value = %q, want replacement", got)
	}

	if err := sc.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := sc.Get("k"); ok {
		t.Error("key should be gone after delete")
	}
	if err := sc.Delete("k"); err != nil {
		t.Errorf("deleting absent key: %v", err)
	}
}

func TestStateReset(t *testing.T) {
	st := openTestState(t)
	if err := st.Scope("breakout", "1", "AFKS").Put("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := st.Scope("breakout", "2", "AFKS").Put("k", "v"); err != nil {
		t.Fatal(err)
	}

	if err := st.Reset("breakout", "1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Scope("breakout", "1", "AFKS").Get("k"); ok {
		t.Error("reset revision should be empty")
	}
	if _, ok, _ := st.Scope("breakout", "2", "AFKS").Get("k"); !ok {
		t.Error("other revision must survive reset")
	}
}

func TestContextScratch(t *testing.T) {
	st := openTestState(t)
	sc := NewContext(nil, domain.TF1H, 100000, 1, st, "breakout", "1")

	scope := sc.Scratch("AFKS")
	if scope == nil {
		t.Fatal("Scratch returned nil with a state store attached")
	}
	if err := scope.Put("k", "v"); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := st.Scope("breakout", "1", "AFKS").Get("k"); !ok || got != "v" {
		t.Errorf("scratch write not visible: %q %v", got, ok)
	}

	bare := NewContext(nil, domain.TF1H, 100000, 1, nil, "breakout", "1")
	if bare.Scratch("AFKS") != nil {
		t.Error("Scratch should be nil without a state store")
	}
}
