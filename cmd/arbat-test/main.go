// Command arbat-test creates and runs backtests over the candle store and
// prints their reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arbat/internal/asset"
	"arbat/internal/backtest"
	"arbat/internal/config"
	"arbat/internal/domain"
	"arbat/internal/report"
	"arbat/internal/store"
	"arbat/internal/strategy"
	"arbat/internal/strategy/builtins"
	"arbat/internal/util"
)

const (
	exitOK        = 0
	exitUsage     = 64
	exitData      = 65
	exitIO        = 74
	exitTransient = 75
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: arbat-test <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run     Create (or reload) a test directory and run it\n")
	fmt.Fprintf(os.Stderr, "  report  Print the report of a finished test\n")
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

	var cmdErr error
	switch os.Args[1] {
	case "run":
		cmdErr = runCmd(cfg, os.Args[2:])
	case "report":
		cmdErr = reportCmd(os.Args[2:])
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
		return config.Default("data"), nil
	}
	return config.Load(path)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrTestMisconfigured),
		errors.Is(err, domain.ErrBadTimeframe):
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

func runCmd(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dir := fs.String("dir", "", "existing test directory to rerun")
	name := fs.String("name", "", "test name; the directory is created under the tests root")
	stratName := fs.String("strategy", "breakout", "strategy name")
	stratVersion := fs.String("version", "1", "strategy version")
	tf := fs.String("tf", "1H", "test timeframe")
	listPath := fs.String("list", "", "asset list file (.al)")
	begin := fs.String("begin", "", "window start, YYYY-MM-DD")
	end := fs.String("end", "", "window end (exclusive), YYYY-MM-DD")
	deposit := fs.Float64("deposit", cfg.Test.Deposit, "starting deposit")
	commission := fs.Float64("commission", cfg.Test.CommissionRate, "commission rate per operation")
	lots := fs.Int("lots", 1, "lots per signal")
	lookback := fs.Int("lookback", 20, "breakout lookback window")
	riskReward := fs.Float64("risk-reward", 2, "breakout take distance in risk multiples")
	fs.Parse(args)

	var tst *backtest.Test
	var err error
	switch {
	case *dir != "":
		tst, err = backtest.LoadTest(*dir)
	case *name != "":
		tst, err = createTest(cfg, *name, *stratName, *stratVersion, *tf, *listPath,
			*begin, *end, *deposit, *commission, *lots)
	default:
		return fmt.Errorf("%w: either -dir or -name is required", domain.ErrTestMisconfigured)
	}
	if err != nil {
		return err
	}

	reg := strategy.NewRegistry()
	reg.Register(builtins.NewBreakout(*lookback, *riskReward))

	st := store.New(cfg.Storage.StoreDir, cfg.Storage.CacheDir)
	driver := backtest.NewDriver(st, reg)

	state, err := strategy.OpenState(filepath.Join(cfg.Storage.TestsDir, "state.db"))
	if err != nil {
		return err
	}
	defer state.Close()
	driver.WithState(state)

	driver.OnProgress(func(pct int) {
		fmt.Printf("\r%s: %3d%%", tst.Config.Name, pct)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := driver.Run(ctx, tst); err != nil {
		fmt.Println()
		return err
	}
	fmt.Println()

	tl, err := tst.TradeList()
	if err != nil {
		return err
	}
	return report.WriteCSV(os.Stdout, report.NewReport(tl))
}

func createTest(cfg *config.Config, name, stratName, stratVersion, tf, listPath, begin, end string,
	deposit, commission float64, lots int) (*backtest.Test, error) {

	if listPath == "" {
		return nil, fmt.Errorf("%w: -list is required for a new test", domain.ErrTestMisconfigured)
	}
	assets, err := asset.LoadList(listPath)
	if err != nil {
		return nil, err
	}
	timeframe, err := domain.ParseTimeframe(tf)
	if err != nil {
		return nil, err
	}
	beginT, err := parseDay(begin)
	if err != nil {
		return nil, err
	}
	endT, err := parseDay(end)
	if err != nil {
		return nil, err
	}

	return backtest.NewTest(filepath.Join(cfg.Storage.TestsDir, name), backtest.Config{
		Name:           name,
		Strategy:       stratName,
		Version:        stratVersion,
		Timeframe:      timeframe,
		Deposit:        deposit,
		CommissionRate: commission,
		Lots:           lots,
		Begin:          beginT,
		End:            endT,
	}, assets)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: -begin and -end are required", domain.ErrTestMisconfigured)
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", domain.ErrTestMisconfigured, s)
	}
	return t, nil
}

func reportCmd(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dir := fs.String("dir", "", "test directory")
	fs.Parse(args)

	if *dir == "" {
		return fmt.Errorf("%w: -dir is required", domain.ErrTestMisconfigured)
	}
	tst, err := backtest.LoadTest(*dir)
	if err != nil {
		return err
	}
	if s := tst.Status(); s != backtest.StatusComplete {
		fmt.Fprintf(os.Stderr, "warning: test status is %s\n", s)
	}
	tl, err := tst.TradeList()
	if err != nil {
		return err
	}
	return report.WriteCSV(os.Stdout, report.Standard(tl)...)
}
