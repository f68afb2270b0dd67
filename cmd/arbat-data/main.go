// Command arbat-data manages the candle store: ingesting provider history,
// aggregating timeframes, trimming instruments and warming the read cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arbat/internal/config"
	"arbat/internal/domain"
	"arbat/internal/source"
	"arbat/internal/store"
	"arbat/internal/util"
)

// Exit codes at the CLI boundary.
const (
	exitOK        = 0
	exitUsage     = 64
	exitData      = 65
	exitIO        = 74
	exitTransient = 75
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: arbat-data <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  ingest     Fetch provider history into the store\n")
	fmt.Fprintf(os.Stderr, "  update     Fetch the current year only\n")
	fmt.Fprintf(os.Stderr, "  aggregate  Build a coarser timeframe from 1M bars\n")
	fmt.Fprintf(os.Stderr, "  delete     Remove a timeframe or a whole instrument\n")
	fmt.Fprintf(os.Stderr, "  cache      Warm the parquet read cache\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(exitIO)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Storage.StoreDir, cfg.Storage.CacheDir)

	var cmdErr error
	switch os.Args[1] {
	case "ingest":
		cmdErr = runIngest(ctx, cfg, st, os.Args[2:], false)
	case "update":
		cmdErr = runIngest(ctx, cfg, st, os.Args[2:], true)
	case "aggregate":
		cmdErr = runAggregate(st, os.Args[2:])
	case "delete":
		cmdErr = runDelete(st, os.Args[2:])
	case "cache":
		cmdErr = runCache(st, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], cmdErr)
		os.Exit(exitCode(cmdErr))
	}
}

func loadConfig() (*config.Config, error) {
	path := "config/arbat.yaml"
	if p := os.Getenv("ARBAT_CONFIG"); p != "" {
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		// No config file: run on defaults rooted at ./data (env overrides
		// still apply through Default's callers).
		return config.Default("data"), nil
	}
	return config.Load(path)
}

// exitCode maps the error taxonomy onto the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadTimeframe),
		errors.Is(err, domain.ErrTestMisconfigured):
		return exitUsage
	case errors.Is(err, domain.ErrUnknownInstrument),
		errors.Is(err, domain.ErrCorruptStore),
		errors.Is(err, domain.ErrGapInData):
		return exitData
	case errors.Is(err, domain.ErrProviderTransient):
		return exitTransient
	default:
		return exitIO
	}
}

// ---------------------------------------------------------------------------
// ingest / update
// ---------------------------------------------------------------------------

func runIngest(ctx context.Context, cfg *config.Config, st *store.CandleStore, args []string, tailOnly bool) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	provider := fs.String("provider", "moex", "data provider: moex or tinkoff")
	tickers := fs.String("tickers", "", "comma-separated tickers; empty means every listed share")
	fromYear := fs.Int("from-year", time.Now().UTC().Year(), "first year to ingest")
	toYear := fs.Int("to-year", time.Now().UTC().Year(), "last year to ingest")
	fs.Parse(args)

	adapter, err := newAdapter(cfg, *provider)
	if err != nil {
		return err
	}

	insts, err := adapter.ListInstruments(ctx)
	if err != nil {
		return err
	}
	if *tickers != "" {
		insts = filterTickers(insts, strings.Split(*tickers, ","))
		if len(insts) == 0 {
			return fmt.Errorf("%w: no listed instrument matches -tickers", domain.ErrUnknownInstrument)
		}
	}

	ingestor := source.NewIngestor(st, cfg.Storage.DownloadsDir)
	var report *source.Report
	if tailOnly {
		// update: append bars newer than the stored tail instead of
		// refetching whole years.
		report, err = ingestor.Update(ctx, adapter, insts)
	} else {
		report, err = ingestor.Ingest(ctx, adapter, insts, yearRange(*fromYear, *toYear))
	}
	if err != nil {
		return err
	}
	fmt.Printf("ingest %s: %d succeeded, %d skipped, %d failed\n",
		adapter.Name(), len(report.Succeeded), len(report.Skipped), len(report.Failed))
	if !report.Ok() {
		return fmt.Errorf("%w: %d instrument-years failed", domain.ErrProviderTransient, len(report.Failed))
	}
	return nil
}

func newAdapter(cfg *config.Config, provider string) (source.Adapter, error) {
	baseDelay := time.Duration(cfg.Ingest.BaseDelayMS) * time.Millisecond
	budget := time.Duration(cfg.Ingest.BudgetSeconds) * time.Second
	switch provider {
	case "moex":
		a := source.NewMoex(cfg.Moex.BaseURL, cfg.Moex.PageLimit, cfg.Moex.RateLimitPerMin)
		a.SetRetry(cfg.Ingest.MaxAttempts, baseDelay, budget)
		return a, nil
	case "tinkoff":
		token, err := cfg.TinkoffToken()
		if err != nil {
			return nil, fmt.Errorf("%w: tinkoff token: %v", domain.ErrAuthFailed, err)
		}
		a := source.NewTinkoff(cfg.Tinkoff.ArchiveURL, cfg.Tinkoff.RestURL, token, cfg.Storage.DownloadsDir)
		a.SetRetry(cfg.Ingest.MaxAttempts, baseDelay, budget)
		return a, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func filterTickers(insts []domain.Instrument, tickers []string) []domain.Instrument {
	want := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		want[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	var out []domain.Instrument
	for _, inst := range insts {
		if want[inst.Ticker] {
			out = append(out, inst)
		}
	}
	return out
}

func yearRange(from, to int) []int {
	if to < from {
		from, to = to, from
	}
	years := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		years = append(years, y)
	}
	return years
}

// ---------------------------------------------------------------------------
// aggregate / delete / cache
// ---------------------------------------------------------------------------

func runAggregate(st *store.CandleStore, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	ticker := fs.String("ticker", "", "instrument ticker")
	tf := fs.String("tf", "1H", "target timeframe")
	fs.Parse(args)

	inst, target, err := resolve(st, *ticker, *tf)
	if err != nil {
		return err
	}
	if err := st.Aggregate(inst, target); err != nil {
		return err
	}
	fmt.Printf("aggregated %s to %s\n", inst.Ticker, target)
	return nil
}

func runDelete(st *store.CandleStore, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	ticker := fs.String("ticker", "", "instrument ticker")
	tf := fs.String("tf", "", "timeframe to delete; empty removes the whole instrument")
	fs.Parse(args)

	if *ticker == "" {
		return fmt.Errorf("%w: -ticker is required", domain.ErrUnknownInstrument)
	}
	ref := shareRef(*ticker)
	if *tf == "" {
		if err := st.DeleteInstrument(ref); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", ref.Ticker)
		return nil
	}
	target, err := domain.ParseTimeframe(*tf)
	if err != nil {
		return err
	}
	if err := st.DeleteTimeframe(ref, target); err != nil {
		return err
	}
	fmt.Printf("deleted %s %s\n", ref.Ticker, target)
	return nil
}

func runCache(st *store.CandleStore, args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	ticker := fs.String("ticker", "", "instrument ticker")
	tf := fs.String("tf", "1M", "timeframe to cache")
	fs.Parse(args)

	inst, target, err := resolve(st, *ticker, *tf)
	if err != nil {
		return err
	}
	first, err := st.FirstDateTime(inst)
	if err != nil {
		return err
	}
	last, err := st.LastDateTime(inst)
	if err != nil {
		return err
	}
	ch, err := st.Load(inst, target, first, last.Add(time.Second))
	if err != nil {
		return err
	}
	fmt.Printf("cached %s %s: %d bars\n", inst.Ticker, target, ch.Len())
	return nil
}

func resolve(st *store.CandleStore, ticker, tf string) (domain.Instrument, domain.Timeframe, error) {
	if ticker == "" {
		return domain.Instrument{}, "", fmt.Errorf("%w: -ticker is required", domain.ErrUnknownInstrument)
	}
	target, err := domain.ParseTimeframe(tf)
	if err != nil {
		return domain.Instrument{}, "", err
	}
	inst, err := st.ReadInstrument(shareRef(ticker))
	if err != nil {
		return domain.Instrument{}, "", err
	}
	return inst, target, nil
}

func shareRef(ticker string) domain.AssetRef {
	return domain.AssetRef{
		Exchange: domain.ExchangeMOEX,
		Class:    domain.ClassShare,
		Ticker:   strings.ToUpper(strings.TrimSpace(ticker)),
	}
}
