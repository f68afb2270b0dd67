package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"arbat/internal/domain"
	"arbat/internal/store"
)

// Item is one (ticker, year) outcome inside a Report.
type Item struct {
	Ticker string `json:"ticker"`
	Year   int    `json:"year"`
	Bars   int    `json:"bars,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Report sums up one ingest run: which instrument-years landed in the
// store, which were skipped, and which failed with what reason.
type Report struct {
	Provider  string    `json:"provider"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Succeeded []Item    `json:"succeeded"`
	Skipped   []Item    `json:"skipped"`
	Failed    []Item    `json:"failed"`
}

// Ok reports whether the run had no failures.
func (r *Report) Ok() bool { return len(r.Failed) == 0 }

// Ingestor drives adapters and lands normalised 1M bars in the candle
// store, one instrument-year at a time. A failed year never stops the run;
// it is recorded and the next year proceeds. Only an authentication
// failure aborts everything.
type Ingestor struct {
	store        *store.CandleStore
	downloadsDir string
	now          func() time.Time
	log          *slog.Logger
}

// NewIngestor creates an Ingestor. Run reports and resume markers are kept
// under downloadsDir per provider.
func NewIngestor(s *store.CandleStore, downloadsDir string) *Ingestor {
	return &Ingestor{
		store:        s,
		downloadsDir: downloadsDir,
		now:          time.Now,
		log:          slog.Default().With("component", "ingest"),
	}
}

// Ingest fetches the given years of 1M candles for every instrument and
// replaces the corresponding year files in the store. Closed years already
// marked complete are skipped, so an interrupted run resumes where it
// stopped.
func (g *Ingestor) Ingest(ctx context.Context, adapter Adapter, insts []domain.Instrument, years []int) (*Report, error) {
	report := &Report{Provider: adapter.Name(), Started: g.now()}
	defer func() {
		report.Finished = g.now()
		if err := g.writeRunReport(adapter.Name(), report); err != nil {
			g.log.Warn("writing run report failed", "error", err)
		}
	}()

	for _, inst := range insts {
		if err := g.ingestInstrument(ctx, adapter, inst, years, report); err != nil {
			if errors.Is(err, domain.ErrAuthFailed) || ctx.Err() != nil {
				return report, err
			}
			g.log.Error("instrument failed", "ticker", inst.Ticker, "error", err)
		}
	}

	g.log.Info("ingest finished",
		"provider", adapter.Name(),
		"succeeded", len(report.Succeeded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}

func (g *Ingestor) ingestInstrument(ctx context.Context, adapter Adapter, inst domain.Instrument, years []int, report *Report) error {
	unlock, err := g.store.Lock(inst.Ref())
	if err != nil {
		for _, year := range years {
			report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
		}
		return err
	}
	defer unlock()

	if err := g.store.WriteInstrument(inst); err != nil {
		return fmt.Errorf("writing descriptor for %s: %w", inst.Ticker, err)
	}

	first, err := adapter.FirstDateTime(ctx, inst)
	if err != nil {
		// Not fatal: ingest every requested year and let empty ones skip.
		g.log.Warn("first datetime unavailable", "ticker", inst.Ticker, "error", err)
		first = time.Time{}
	}

	currentYear := g.now().UTC().Year()
	lastDone := g.readLastCompleted(adapter.Name(), inst.Ticker)

	for _, year := range years {
		if !first.IsZero() && year < first.Year() {
			report.Skipped = append(report.Skipped, Item{Ticker: inst.Ticker, Year: year, Reason: "before first candle"})
			continue
		}
		if year < currentYear && year <= lastDone {
			report.Skipped = append(report.Skipped, Item{Ticker: inst.Ticker, Year: year, Reason: "already ingested"})
			continue
		}

		bars, err := g.fetchYear(ctx, adapter, inst, year, currentYear)
		if err != nil {
			if errors.Is(err, domain.ErrAuthFailed) || ctx.Err() != nil {
				report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
				return err
			}
			g.log.Error("year failed", "ticker", inst.Ticker, "year", year, "error", err)
			report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
			continue
		}
		if len(bars) == 0 {
			report.Skipped = append(report.Skipped, Item{Ticker: inst.Ticker, Year: year, Reason: "no candles"})
			continue
		}

		if err := g.store.ReplaceYear(inst, domain.TF1M, year, bars); err != nil {
			report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
			continue
		}
		report.Succeeded = append(report.Succeeded, Item{Ticker: inst.Ticker, Year: year, Bars: len(bars)})
		g.log.Info("year ingested", "ticker", inst.Ticker, "year", year, "bars", len(bars))

		if year < currentYear && year > lastDone {
			lastDone = year
			g.markLastCompleted(adapter.Name(), inst.Ticker, year)
		}
	}
	return nil
}

// Update appends bars newer than the last stored 1M bar for every
// instrument. Unlike Ingest it never refetches the whole year: the stored
// tail sets the fetch lower bound, and SaveBars merges the fresh bars in.
// An instrument with no stored bars yet falls back to the full current
// year.
func (g *Ingestor) Update(ctx context.Context, adapter Adapter, insts []domain.Instrument) (*Report, error) {
	report := &Report{Provider: adapter.Name(), Started: g.now()}
	defer func() {
		report.Finished = g.now()
		if err := g.writeRunReport(adapter.Name(), report); err != nil {
			g.log.Warn("writing run report failed", "error", err)
		}
	}()

	for _, inst := range insts {
		if err := g.updateInstrument(ctx, adapter, inst, report); err != nil {
			if errors.Is(err, domain.ErrAuthFailed) || ctx.Err() != nil {
				return report, err
			}
			g.log.Error("instrument failed", "ticker", inst.Ticker, "error", err)
		}
	}

	g.log.Info("update finished",
		"provider", adapter.Name(),
		"succeeded", len(report.Succeeded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}

func (g *Ingestor) updateInstrument(ctx context.Context, adapter Adapter, inst domain.Instrument, report *Report) error {
	now := g.now().UTC()
	year := now.Year()

	unlock, err := g.store.Lock(inst.Ref())
	if err != nil {
		report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
		return err
	}
	defer unlock()

	if err := g.store.WriteInstrument(inst); err != nil {
		return fmt.Errorf("writing descriptor for %s: %w", inst.Ticker, err)
	}

	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	last, err := g.store.LastBarTime(inst, domain.TF1M)
	switch {
	case err == nil:
		from = last.Add(domain.TF1M.Step())
	case !errors.Is(err, domain.ErrGapInData):
		report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
		return err
	}

	if !from.Before(now) {
		report.Skipped = append(report.Skipped, Item{Ticker: inst.Ticker, Year: year, Reason: "up to date"})
		return nil
	}

	bars, err := adapter.Candles(ctx, inst, domain.TF1M, from, now).Drain(ctx)
	if err != nil {
		report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
		if errors.Is(err, domain.ErrAuthFailed) || ctx.Err() != nil {
			return err
		}
		return nil
	}
	if len(bars) == 0 {
		report.Skipped = append(report.Skipped, Item{Ticker: inst.Ticker, Year: year, Reason: "no new candles"})
		return nil
	}

	if err := g.store.SaveBars(inst, domain.TF1M, bars); err != nil {
		report.Failed = append(report.Failed, Item{Ticker: inst.Ticker, Year: year, Reason: err.Error()})
		return nil
	}
	report.Succeeded = append(report.Succeeded, Item{Ticker: inst.Ticker, Year: year, Bars: len(bars)})
	g.log.Info("tail updated", "ticker", inst.Ticker, "from", from, "bars", len(bars))
	return nil
}

// fetchYear picks the cheapest path for one instrument-year: a single
// archive download for closed years when the adapter supports it, candle
// pagination otherwise.
func (g *Ingestor) fetchYear(ctx context.Context, adapter Adapter, inst domain.Instrument, year, currentYear int) ([]domain.Bar, error) {
	if dl, ok := adapter.(ArchiveDownloader); ok && year < currentYear {
		return dl.DownloadYear(ctx, inst, year)
	}

	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)
	if now := g.now().UTC(); to.After(now) {
		to = now
	}
	return adapter.Candles(ctx, inst, domain.TF1M, from, to).Drain(ctx)
}

// ---------------------------------------------------------------------------
// Resume markers and run reports
// ---------------------------------------------------------------------------

func (g *Ingestor) providerDir(provider string) string {
	return filepath.Join(g.downloadsDir, provider)
}

// readLastCompleted returns the newest fully-ingested closed year for the
// ticker, or 0.
func (g *Ingestor) readLastCompleted(provider, ticker string) int {
	path := filepath.Join(g.providerDir(provider), ticker, ".last-completed")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	year, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return year
}

func (g *Ingestor) markLastCompleted(provider, ticker string, year int) {
	dir := filepath.Join(g.providerDir(provider), ticker)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		g.log.Warn("creating progress dir failed", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, ".last-completed")
	if err := os.WriteFile(path, []byte(strconv.Itoa(year)+"\n"), 0o644); err != nil {
		g.log.Warn("writing progress marker failed", "path", path, "error", err)
	}
}

// writeRunReport drops .lastrun.success.json / .lastrun.failed.json next to
// the provider's downloads so the previous run's outcome is always one cat
// away.
func (g *Ingestor) writeRunReport(provider string, report *Report) error {
	dir := g.providerDir(provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if len(report.Succeeded) > 0 || len(report.Skipped) > 0 {
		ok := struct {
			Started   time.Time `json:"started"`
			Finished  time.Time `json:"finished"`
			Succeeded []Item    `json:"succeeded"`
			Skipped   []Item    `json:"skipped"`
		}{report.Started, report.Finished, report.Succeeded, report.Skipped}
		if err := writeJSON(filepath.Join(dir, ".lastrun.success.json"), ok); err != nil {
			return err
		}
	}
	if len(report.Failed) > 0 {
		if err := writeJSON(filepath.Join(dir, ".lastrun.failed.json"), report.Failed); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
