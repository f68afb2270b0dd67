package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"arbat/internal/domain"
	"arbat/internal/util"
)

var _ Adapter = (*Moex)(nil)

// issTimeLayout is the timestamp format the ISS API uses; values are in
// Moscow local time.
const issTimeLayout = "2006-01-02 15:04:05"

// Moex fetches candles from the MOEX ISS public HTTP API. No
// authentication is required; delayed data is served to anonymous clients.
type Moex struct {
	client    *resty.Client
	limiter   *util.RateLimiter
	cal       *util.Calendar
	pageLimit int
	attempts  int
	baseDelay time.Duration
	budget    time.Duration
	log       *slog.Logger
}

// NewMoex creates an ISS adapter. pageLimit is the candle page size used
// for pagination; ratePerMin throttles outgoing requests.
func NewMoex(baseURL string, pageLimit, ratePerMin int) *Moex {
	return &Moex{
		client:    resty.New().SetBaseURL(baseURL).SetHeader("Accept", "application/json"),
		limiter:   util.NewRateLimiter(ratePerMin),
		cal:       util.Moex(),
		pageLimit: pageLimit,
		attempts:  4,
		baseDelay: 500 * time.Millisecond,
		budget:    5 * time.Minute,
		log:       slog.Default().With("adapter", "moex"),
	}
}

// SetRetry overrides the per-request retry policy: attempt count, starting
// backoff delay and the overall wall-clock budget.
func (m *Moex) SetRetry(maxAttempts int, baseDelay, budget time.Duration) {
	m.attempts = maxAttempts
	m.baseDelay = baseDelay
	m.budget = budget
}

// Name returns the provider identifier.
func (m *Moex) Name() string { return "moex" }

// issInterval maps a timeframe onto an ISS interval code. ISS has no 5M
// interval; 5M charts are aggregated locally from 1M.
func issInterval(tf domain.Timeframe) (int, error) {
	switch tf {
	case domain.TF1M:
		return 1, nil
	case domain.TF10M:
		return 10, nil
	case domain.TF1H:
		return 60, nil
	case domain.TFDay:
		return 24, nil
	case domain.TFWeek:
		return 7, nil
	case domain.TFMonth:
		return 31, nil
	}
	return 0, fmt.Errorf("%w: iss has no %s interval", domain.ErrBadTimeframe, tf)
}

// marketPath maps an asset class onto the ISS market segment.
func marketPath(class domain.AssetClass) string {
	switch class {
	case domain.ClassBond:
		return "bonds"
	case domain.ClassIndex:
		return "index"
	default:
		return "shares"
	}
}

// issTable is the generic shape of an ISS block: parallel column names and
// row data.
type issTable struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// col returns the index of the named column, or -1.
func (t *issTable) col(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// get issues a rate-limited GET with retry on transient failures and
// decodes the JSON body into out. Retries stop when either the attempt
// count or the wall-clock budget is exhausted.
func (m *Moex) get(ctx context.Context, path string, params map[string]string, out any) error {
	return util.RetryBudgetIf(ctx, m.attempts, m.baseDelay, m.budget, Transient, func() error {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := m.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("%w: iss get %s: %v", domain.ErrProviderTransient, path, err)
		}
		if err := classifyStatus(resp.StatusCode()); err != nil {
			return fmt.Errorf("%w: iss get %s: status %d", err, path, resp.StatusCode())
		}
		return nil
	})
}

// ListInstruments returns the shares traded on the main TQBR board.
func (m *Moex) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var body struct {
		Securities issTable `json:"securities"`
	}
	params := map[string]string{
		"iss.meta":           "off",
		"iss.only":           "securities",
		"securities.columns": "SECID,SECNAME,LOTSIZE,MINSTEP",
	}
	if err := m.get(ctx, "/iss/engines/stock/markets/shares/boards/TQBR/securities.json", params, &body); err != nil {
		return nil, err
	}

	t := &body.Securities
	secid, name := t.col("SECID"), t.col("SECNAME")
	lot, step := t.col("LOTSIZE"), t.col("MINSTEP")
	if secid < 0 || lot < 0 || step < 0 {
		return nil, fmt.Errorf("%w: securities listing missing columns %v", domain.ErrProviderPermanent, t.Columns)
	}

	insts := make([]domain.Instrument, 0, len(t.Data))
	for _, row := range t.Data {
		inst := domain.Instrument{
			Exchange:  domain.ExchangeMOEX,
			Class:     domain.ClassShare,
			Ticker:    rowString(row, secid),
			Lot:       int(rowFloat(row, lot)),
			PriceStep: rowFloat(row, step),
			Name:      rowString(row, name),
		}
		if inst.Ticker == "" {
			continue
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

// FirstDateTime finds the earliest candle the exchange has for the
// instrument, across all intervals.
func (m *Moex) FirstDateTime(ctx context.Context, inst domain.Instrument) (time.Time, error) {
	var body struct {
		Borders issTable `json:"borders"`
	}
	path := fmt.Sprintf("/iss/engines/stock/markets/%s/securities/%s/candleborders.json",
		marketPath(inst.Class), inst.Ticker)
	if err := m.get(ctx, path, map[string]string{"iss.meta": "off"}, &body); err != nil {
		return time.Time{}, err
	}

	begin := body.Borders.col("begin")
	if begin < 0 || len(body.Borders.Data) == 0 {
		return time.Time{}, fmt.Errorf("%w: no candle borders for %s", domain.ErrUnknownInstrument, inst.Ticker)
	}

	var first time.Time
	for _, row := range body.Borders.Data {
		t, err := m.parseTime(rowString(row, begin))
		if err != nil {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	if first.IsZero() {
		return time.Time{}, fmt.Errorf("%w: unparsable candle borders for %s", domain.ErrProviderPermanent, inst.Ticker)
	}
	return first, nil
}

// Candles streams candles in [from, to) by walking pages forward: each page
// starts one timeframe step after the last received open time, and a page
// shorter than the limit terminates the stream.
func (m *Moex) Candles(ctx context.Context, inst domain.Instrument, tf domain.Timeframe, from, to time.Time) *Iterator {
	interval, err := issInterval(tf)
	if err != nil {
		return errIterator(err)
	}
	path := fmt.Sprintf("/iss/engines/stock/markets/%s/securities/%s/candles.json",
		marketPath(inst.Class), inst.Ticker)

	cursor := from
	done := false
	return newIterator(func(ctx context.Context) ([]domain.Bar, error) {
		if done || !cursor.Before(to) {
			return nil, nil
		}
		params := map[string]string{
			"iss.meta": "off",
			"interval": fmt.Sprint(interval),
			"from":     cursor.In(m.cal.Location()).Format(issTimeLayout),
			"till":     to.In(m.cal.Location()).Format(issTimeLayout),
			"limit":    fmt.Sprint(m.pageLimit),
		}
		var body struct {
			Candles issTable `json:"candles"`
		}
		if err := m.get(ctx, path, params, &body); err != nil {
			return nil, err
		}

		bars, err := m.parseCandles(&body.Candles, to)
		if err != nil {
			return nil, err
		}
		if len(body.Candles.Data) < m.pageLimit {
			done = true
		}
		if len(bars) > 0 {
			cursor = bars[len(bars)-1].DT.Add(tf.Step())
		} else {
			done = true
		}
		return bars, nil
	})
}

// parseCandles flattens an ISS candles table into bars, converting Moscow
// timestamps to UTC and dropping rows at or past the exclusive bound.
func (m *Moex) parseCandles(t *issTable, to time.Time) ([]domain.Bar, error) {
	begin := t.col("begin")
	open, high := t.col("open"), t.col("high")
	low, cls := t.col("low"), t.col("close")
	value, volume := t.col("value"), t.col("volume")
	if len(t.Data) > 0 && (begin < 0 || open < 0 || high < 0 || low < 0 || cls < 0) {
		return nil, fmt.Errorf("%w: candles table missing columns %v", domain.ErrProviderPermanent, t.Columns)
	}

	bars := make([]domain.Bar, 0, len(t.Data))
	for _, row := range t.Data {
		dt, err := m.parseTime(rowString(row, begin))
		if err != nil {
			return nil, fmt.Errorf("%w: bad candle time %q", domain.ErrProviderPermanent, rowString(row, begin))
		}
		if !dt.Before(to) {
			continue
		}
		bars = append(bars, domain.Bar{
			DT:     dt,
			Open:   rowFloat(row, open),
			High:   rowFloat(row, high),
			Low:    rowFloat(row, low),
			Close:  rowFloat(row, cls),
			Value:  rowFloat(row, value),
			Volume: int64(rowFloat(row, volume)),
		})
	}
	return bars, nil
}

// parseTime interprets an ISS timestamp as Moscow local time and converts
// it to UTC.
func (m *Moex) parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(issTimeLayout, s, m.cal.Location())
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// rowString extracts a string cell from an ISS data row.
func rowString(row []any, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

// rowFloat extracts a numeric cell from an ISS data row. ISS emits JSON
// numbers, which decode as float64.
func rowFloat(row []any, i int) float64 {
	if i < 0 || i >= len(row) {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
