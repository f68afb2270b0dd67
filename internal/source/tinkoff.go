package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"arbat/internal/domain"
	"arbat/internal/util"
)

var _ Adapter = (*Tinkoff)(nil)
var _ ArchiveDownloader = (*Tinkoff)(nil)

// ArchiveDownloader is implemented by adapters that can fetch a whole year
// of 1M bars in one shot. Ingest prefers it over candle pagination for
// closed years.
type ArchiveDownloader interface {
	DownloadYear(ctx context.Context, inst domain.Instrument, year int) ([]domain.Bar, error)
}

// Tinkoff fetches candles from the Tinkoff Invest API: per-year ZIP
// archives of 1M candles keyed by FIGI, and the REST GetCandles endpoint
// for ranges past the newest archive. All calls require a bearer token.
type Tinkoff struct {
	archive      *resty.Client
	rest         *resty.Client
	downloadsDir string
	limiter      *util.RateLimiter
	attempts     int
	baseDelay    time.Duration
	budget       time.Duration
	log          *slog.Logger
}

// NewTinkoff creates a Tinkoff adapter. Raw ZIP archives are kept under
// downloadsDir for inspection and re-parsing.
func NewTinkoff(archiveURL, restURL, token, downloadsDir string) *Tinkoff {
	auth := "Bearer " + token
	return &Tinkoff{
		archive:      resty.New().SetBaseURL(archiveURL).SetHeader("Authorization", auth),
		rest:         resty.New().SetBaseURL(restURL).SetHeader("Authorization", auth).SetHeader("Content-Type", "application/json"),
		downloadsDir: downloadsDir,
		limiter:      util.NewRateLimiterBurst(120, 10),
		attempts:     4,
		baseDelay:    time.Second,
		budget:       5 * time.Minute,
		log:          slog.Default().With("adapter", "tinkoff"),
	}
}

// SetRetry overrides the per-request retry policy: attempt count, starting
// backoff delay and the overall wall-clock budget.
func (t *Tinkoff) SetRetry(maxAttempts int, baseDelay, budget time.Duration) {
	t.attempts = maxAttempts
	t.baseDelay = baseDelay
	t.budget = budget
}

// Name returns the provider identifier.
func (t *Tinkoff) Name() string { return "tinkoff" }

// quotation is the REST money type: integer units plus nanoseconds of a
// unit. Units arrive as a JSON string.
type quotation struct {
	Units string `json:"units"`
	Nano  int64  `json:"nano"`
}

func (q quotation) Float() float64 {
	units, _ := strconv.ParseFloat(q.Units, 64)
	return units + float64(q.Nano)/1e9
}

// post issues a rate-limited REST call with retry on transient failures,
// bounded by the adapter's wall-clock budget.
func (t *Tinkoff) post(ctx context.Context, service string, req, out any) error {
	return util.RetryBudgetIf(ctx, t.attempts, t.baseDelay, t.budget, Transient, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := t.rest.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(out).
			Post(service)
		if err != nil {
			return fmt.Errorf("%w: tinkoff %s: %v", domain.ErrProviderTransient, service, err)
		}
		if err := classifyStatus(resp.StatusCode()); err != nil {
			return fmt.Errorf("%w: tinkoff %s: status %d", err, service, resp.StatusCode())
		}
		return nil
	})
}

// ListInstruments returns the base universe of shares.
func (t *Tinkoff) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var body struct {
		Instruments []struct {
			Figi              string    `json:"figi"`
			Ticker            string    `json:"ticker"`
			UID               string    `json:"uid"`
			Name              string    `json:"name"`
			Lot               int       `json:"lot"`
			MinPriceIncrement quotation `json:"minPriceIncrement"`
			ClassCode         string    `json:"classCode"`
		} `json:"instruments"`
	}
	req := map[string]string{"instrumentStatus": "INSTRUMENT_STATUS_BASE"}
	if err := t.post(ctx, "/tinkoff.public.invest.api.contract.v1.InstrumentsService/Shares", req, &body); err != nil {
		return nil, err
	}

	insts := make([]domain.Instrument, 0, len(body.Instruments))
	for _, sh := range body.Instruments {
		if sh.ClassCode != "" && sh.ClassCode != "TQBR" {
			continue
		}
		insts = append(insts, domain.Instrument{
			Exchange:  domain.ExchangeMOEX,
			Class:     domain.ClassShare,
			Ticker:    sh.Ticker,
			Figi:      sh.Figi,
			UID:       sh.UID,
			Lot:       sh.Lot,
			PriceStep: sh.MinPriceIncrement.Float(),
			Name:      sh.Name,
		})
	}
	return insts, nil
}

// FirstDateTime reads the instrument card, which carries the date of its
// earliest 1M candle.
func (t *Tinkoff) FirstDateTime(ctx context.Context, inst domain.Instrument) (time.Time, error) {
	var body struct {
		Instrument struct {
			First1MinCandleDate time.Time `json:"first1MinCandleDate"`
		} `json:"instrument"`
	}
	req := map[string]string{"idType": "INSTRUMENT_ID_TYPE_FIGI", "id": inst.Figi}
	if err := t.post(ctx, "/tinkoff.public.invest.api.contract.v1.InstrumentsService/GetInstrumentBy", req, &body); err != nil {
		return time.Time{}, err
	}
	if body.Instrument.First1MinCandleDate.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no first candle date for %s", domain.ErrUnknownInstrument, inst.Ticker)
	}
	return body.Instrument.First1MinCandleDate.UTC(), nil
}

// candleInterval maps a timeframe onto a REST interval constant. Only
// frames the API serves natively are accepted.
func candleInterval(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.TF1M:
		return "CANDLE_INTERVAL_1_MIN", nil
	case domain.TF5M:
		return "CANDLE_INTERVAL_5_MIN", nil
	case domain.TF10M:
		return "CANDLE_INTERVAL_10_MIN", nil
	case domain.TF1H:
		return "CANDLE_INTERVAL_HOUR", nil
	case domain.TFDay:
		return "CANDLE_INTERVAL_DAY", nil
	}
	return "", fmt.Errorf("%w: tinkoff rest has no %s interval", domain.ErrBadTimeframe, tf)
}

// candleChunk is the widest request window GetCandles accepts per interval.
func candleChunk(tf domain.Timeframe) time.Duration {
	if tf.Intraday() {
		return 24 * time.Hour
	}
	return 365 * 24 * time.Hour
}

// Candles streams candles in [from, to) via the REST endpoint, chunked by
// the per-interval window limit.
func (t *Tinkoff) Candles(ctx context.Context, inst domain.Instrument, tf domain.Timeframe, from, to time.Time) *Iterator {
	interval, err := candleInterval(tf)
	if err != nil {
		return errIterator(err)
	}
	chunk := candleChunk(tf)

	cursor := from
	return newIterator(func(ctx context.Context) ([]domain.Bar, error) {
		for cursor.Before(to) {
			end := cursor.Add(chunk)
			if end.After(to) {
				end = to
			}
			bars, err := t.getCandles(ctx, inst.Figi, interval, cursor, end)
			if err != nil {
				return nil, err
			}
			cursor = end
			if len(bars) > 0 {
				return bars, nil
			}
			// Empty chunk (weekend, holiday): move on.
		}
		return nil, nil
	})
}

func (t *Tinkoff) getCandles(ctx context.Context, figi, interval string, from, to time.Time) ([]domain.Bar, error) {
	var body struct {
		Candles []struct {
			Open       quotation `json:"open"`
			High       quotation `json:"high"`
			Low        quotation `json:"low"`
			Close      quotation `json:"close"`
			Volume     string    `json:"volume"`
			Time       time.Time `json:"time"`
			IsComplete bool      `json:"isComplete"`
		} `json:"candles"`
	}
	req := map[string]any{
		"figi":     figi,
		"from":     from.UTC().Format(time.RFC3339),
		"to":       to.UTC().Format(time.RFC3339),
		"interval": interval,
	}
	if err := t.post(ctx, "/tinkoff.public.invest.api.contract.v1.MarketDataService/GetCandles", req, &body); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(body.Candles))
	for _, c := range body.Candles {
		if !c.IsComplete {
			continue
		}
		volume, _ := strconv.ParseInt(c.Volume, 10, 64)
		open, high := c.Open.Float(), c.High.Float()
		low, cls := c.Low.Float(), c.Close.Float()
		bars = append(bars, domain.Bar{
			DT:     c.Time.UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  cls,
			Value:  cls * float64(volume),
			Volume: volume,
		})
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Year archives
// ---------------------------------------------------------------------------

// DownloadYear fetches the ZIP archive of 1M candles for one FIGI-year,
// keeps the raw file under the downloads directory, and returns the parsed,
// deduplicated bars in increasing open time.
func (t *Tinkoff) DownloadYear(ctx context.Context, inst domain.Instrument, year int) ([]domain.Bar, error) {
	if inst.Figi == "" {
		return nil, fmt.Errorf("%w: %s has no figi", domain.ErrUnknownInstrument, inst.Ticker)
	}

	var raw []byte
	err := util.RetryBudgetIf(ctx, t.attempts, t.baseDelay, t.budget, Transient, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := t.archive.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"figi": inst.Figi, "year": strconv.Itoa(year)}).
			Get("")
		if err != nil {
			return fmt.Errorf("%w: tinkoff archive %s/%d: %v", domain.ErrProviderTransient, inst.Figi, year, err)
		}
		if err := classifyStatus(resp.StatusCode()); err != nil {
			return fmt.Errorf("%w: tinkoff archive %s/%d: status %d", err, inst.Figi, year, resp.StatusCode())
		}
		raw = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if t.downloadsDir != "" {
		dir := filepath.Join(t.downloadsDir, "tinkoff", inst.Figi)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			path := filepath.Join(dir, fmt.Sprintf("%d.zip", year))
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				t.log.Warn("keeping raw archive failed", "path", path, "error", err)
			}
		}
	}

	return parseArchive(raw)
}

// parseArchive extracts every CSV entry of a candle archive, deduplicates
// by open time, and sorts. Archive lines are
// figi;time;open;close;high;low;volume with RFC3339 UTC times.
func parseArchive(raw []byte) ([]domain.Bar, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: reading candle archive: %v", domain.ErrProviderPermanent, err)
	}

	byTime := make(map[int64]domain.Bar)
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading archive entry %s: %w", f.Name, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			bar, err := parseArchiveLine(line)
			if err != nil {
				return nil, fmt.Errorf("archive entry %s: %w", f.Name, err)
			}
			byTime[bar.DT.UnixNano()] = bar
		}
	}

	bars := make([]domain.Bar, 0, len(byTime))
	for _, b := range byTime {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].DT.Before(bars[j].DT) })
	return bars, nil
}

func parseArchiveLine(line string) (domain.Bar, error) {
	fields := strings.Split(line, ";")
	if len(fields) < 7 {
		return domain.Bar{}, fmt.Errorf("%w: short archive line %q", domain.ErrProviderPermanent, line)
	}
	dt, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("%w: bad archive time %q", domain.ErrProviderPermanent, fields[1])
	}
	open, err1 := strconv.ParseFloat(fields[2], 64)
	cls, err2 := strconv.ParseFloat(fields[3], 64)
	high, err3 := strconv.ParseFloat(fields[4], 64)
	low, err4 := strconv.ParseFloat(fields[5], 64)
	volume, err5 := strconv.ParseInt(fields[6], 10, 64)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return domain.Bar{}, fmt.Errorf("%w: bad archive line %q", domain.ErrProviderPermanent, line)
		}
	}
	return domain.Bar{
		DT:     dt.UTC(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  cls,
		Value:  cls * float64(volume),
		Volume: volume,
	}, nil
}
