package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arbat/internal/domain"
)

func testShare() domain.Instrument {
	return domain.Instrument{
		Exchange:  domain.ExchangeMOEX,
		Class:     domain.ClassShare,
		Ticker:    "AFKS",
		Figi:      "BBG004S68614",
		Lot:       100,
		PriceStep: 0.001,
	}
}

// issCandlesPage renders an ISS candles response with n one-minute candles
// starting at the given Moscow-local timestamp.
func issCandlesPage(startMSK string, n int) string {
	start, _ := time.Parse(issTimeLayout, startMSK)
	page := `{"candles":{"columns":["begin","end","open","close","high","low","value","volume"],"data":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			page += ","
		}
		b := start.Add(time.Duration(i) * time.Minute)
		page += fmt.Sprintf(`["%s","%s",16.1,16.2,16.3,16.0,1000,50]`,
			b.Format(issTimeLayout), b.Add(59*time.Second).Format(issTimeLayout))
	}
	return page + `]}}`
}

func TestMoexCandlesPagination(t *testing.T) {
	var froms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/iss/engines/stock/markets/shares/securities/AFKS/candles.json" {
			http.NotFound(w, r)
			return
		}
		from := r.URL.Query().Get("from")
		froms = append(froms, from)
		w.Header().Set("Content-Type", "application/json")
		switch len(froms) {
		case 1:
			fmt.Fprint(w, issCandlesPage("2023-08-01 10:00:00", 3)) // full page
		default:
			fmt.Fprint(w, issCandlesPage("2023-08-01 10:03:00", 2)) // short page, terminates
		}
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 3, 6000)
	from := time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC)
	to := time.Date(2023, 8, 2, 0, 0, 0, 0, time.UTC)

	bars, err := m.Candles(context.Background(), testShare(), domain.TF1M, from, to).Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("bars = %d, want 5", len(bars))
	}
	// Moscow 10:00 is 07:00 UTC.
	if !bars[0].DT.Equal(time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("first bar DT = %v, want 07:00 UTC", bars[0].DT)
	}
	if !bars[4].DT.Equal(time.Date(2023, 8, 1, 7, 4, 0, 0, time.UTC)) {
		t.Errorf("last bar DT = %v", bars[4].DT)
	}

	if len(froms) != 2 {
		t.Fatalf("requests = %d, want 2", len(froms))
	}
	if froms[0] != "2023-08-01 10:00:00" {
		t.Errorf("first from = %q", froms[0])
	}
	// Second page starts one step after the last received candle.
	if froms[1] != "2023-08-01 10:03:00" {
		t.Errorf("second from = %q", froms[1])
	}
}

func TestMoexCandlesRetriesTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, issCandlesPage("2023-08-01 10:00:00", 1))
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 10, 6000)
	m.baseDelay = time.Millisecond

	from := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	bars, err := m.Candles(context.Background(), testShare(), domain.TF1M, from, to).Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("bars = %d, want 1", len(bars))
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls)
	}
}

func TestMoexSetRetryBoundsAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 10, 6000)
	m.SetRetry(2, time.Millisecond, time.Minute)

	from := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.Candles(context.Background(), testShare(), domain.TF1M, from, from.AddDate(0, 0, 1)).Drain(context.Background())
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("Drain = %v, want transient", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want exactly the configured 2 attempts", calls)
	}
}

func TestMoexSetRetryBudgetCutsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 10, 6000)
	// Backoff far longer than the budget: the wall clock, not the attempt
	// count, ends the loop.
	m.SetRetry(100, 50*time.Millisecond, 10*time.Millisecond)

	from := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.Candles(context.Background(), testShare(), domain.TF1M, from, from.AddDate(0, 0, 1)).Drain(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain = %v, want deadline exceeded", err)
	}
	if calls > 2 {
		t.Errorf("calls = %d, want the budget to stop retries early", calls)
	}
}

func TestMoexCandlesPermanentError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 10, 6000)
	from := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.Candles(context.Background(), testShare(), domain.TF1M, from, from.AddDate(0, 0, 1)).Drain(context.Background())
	if !errors.Is(err, domain.ErrUnknownInstrument) {
		t.Errorf("err = %v, want ErrUnknownInstrument", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent)", calls)
	}
}

func TestMoexCandlesBadTimeframe(t *testing.T) {
	m := NewMoex("http://unused", 10, 6000)
	it := m.Candles(context.Background(), testShare(), domain.TF5M, time.Time{}, time.Now())
	if it.Next(context.Background()) {
		t.Fatal("iterator should fail immediately")
	}
	if !errors.Is(it.Err(), domain.ErrBadTimeframe) {
		t.Errorf("err = %v, want ErrBadTimeframe", it.Err())
	}
}

func TestMoexFirstDateTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"borders":{"columns":["begin","end","interval"],"data":[
			["2011-12-15 10:00:00","2023-08-01 23:50:00",1],
			["2011-12-12 10:00:00","2023-08-01 23:50:00",24]]}}`)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 10, 6000)
	first, err := m.FirstDateTime(context.Background(), testShare())
	if err != nil {
		t.Fatalf("FirstDateTime: %v", err)
	}
	// Earliest border across intervals, Moscow 2011-12-12 10:00 → 06:00 UTC
	// (Moscow was UTC+4 in 2011).
	want := time.Date(2011, 12, 12, 6, 0, 0, 0, time.UTC)
	if !first.Equal(want) {
		t.Errorf("first = %v, want %v", first, want)
	}
}

func TestMoexListInstruments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"securities":{"columns":["SECID","SECNAME","LOTSIZE","MINSTEP"],"data":[
			["AFKS","AFK Sistema",100,0.001],
			["SBER","Sberbank",10,0.01]]}}`)
	}))
	defer srv.Close()

	m := NewMoex(srv.URL, 10, 6000)
	insts, err := m.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("instruments = %d, want 2", len(insts))
	}
	if insts[0].Ticker != "AFKS" || insts[0].Lot != 100 || insts[0].PriceStep != 0.001 {
		t.Errorf("AFKS = %+v", insts[0])
	}
	if insts[1].Exchange != domain.ExchangeMOEX || insts[1].Class != domain.ClassShare {
		t.Errorf("SBER = %+v", insts[1])
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{200, nil},
		{401, domain.ErrAuthFailed},
		{403, domain.ErrAuthFailed},
		{404, domain.ErrUnknownInstrument},
		{429, domain.ErrProviderTransient},
		{500, domain.ErrProviderTransient},
		{503, domain.ErrProviderTransient},
		{400, domain.ErrProviderPermanent},
		{422, domain.ErrProviderPermanent},
	}
	for _, tc := range cases {
		got := classifyStatus(tc.code)
		if !errors.Is(got, tc.want) && !(got == nil && tc.want == nil) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIteratorDedupes(t *testing.T) {
	batches := [][]domain.Bar{
		{{DT: time.Unix(60, 0).UTC()}, {DT: time.Unix(120, 0).UTC()}},
		{{DT: time.Unix(120, 0).UTC()}, {DT: time.Unix(180, 0).UTC()}}, // overlap
		{},
	}
	i := 0
	it := newIterator(func(ctx context.Context) ([]domain.Bar, error) {
		if i >= len(batches) {
			return nil, nil
		}
		b := batches[i]
		i++
		return b, nil
	})

	var got []time.Time
	for it.Next(context.Background()) {
		got = append(got, it.Bar().DT)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("bars = %d, want 3 (duplicate dropped)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Before(got[i]) {
			t.Fatal("bars not strictly increasing")
		}
	}
	// Exhausted iterators stay exhausted.
	if it.Next(context.Background()) {
		t.Error("Next after exhaustion should stay false")
	}
}
