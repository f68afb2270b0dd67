// Package store implements the on-disk candle store: a per-asset,
// per-timeframe archive of canonical CSV year files with merge/update
// semantics, aggregation to coarser frames, and a Parquet read cache.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"arbat/internal/chart"
	"arbat/internal/domain"
	"arbat/internal/util"
)

// Descriptor file names inside an instrument directory.
const (
	assetDescriptor     = "asset.json"
	timeframeDescriptor = "timeframe"
	lockFile            = ".lock"
)

// CandleStore is the on-disk repository of (asset, timeframe) bar
// sequences. Layout:
//
//	<Dir>/<EXCHANGE>/<CLASS>/<TICKER>/asset.json
//	<Dir>/<EXCHANGE>/<CLASS>/<TICKER>/<TF>/timeframe
//	<Dir>/<EXCHANGE>/<CLASS>/<TICKER>/<TF>/<YYYY>.csv
//
// Within a year file open times are strictly increasing; across years the
// concatenation is gap-free modulo exchange closures. The store is owned
// exclusively during writes and shared-read at all other times.
type CandleStore struct {
	Dir      string
	CacheDir string

	cal *util.Calendar
	log *slog.Logger
}

// New creates a CandleStore rooted at storeDir with a Parquet read cache
// under cacheDir.
func New(storeDir, cacheDir string) *CandleStore {
	return &CandleStore{
		Dir:      storeDir,
		CacheDir: cacheDir,
		cal:      util.Moex(),
		log:      slog.Default().With("component", "store"),
	}
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func (s *CandleStore) instrumentDir(ref domain.AssetRef) string {
	return filepath.Join(s.Dir, string(ref.Exchange), string(ref.Class), strings.ToUpper(ref.Ticker))
}

func (s *CandleStore) tfDir(ref domain.AssetRef, tf domain.Timeframe) string {
	return filepath.Join(s.instrumentDir(ref), string(tf))
}

func (s *CandleStore) leafPath(ref domain.AssetRef, tf domain.Timeframe, year int) string {
	return filepath.Join(s.tfDir(ref, tf), fmt.Sprintf("%d.csv", year))
}

// ---------------------------------------------------------------------------
// Descriptors
// ---------------------------------------------------------------------------

// WriteInstrument writes the instrument descriptor, making the store
// self-describing.
func (s *CandleStore) WriteInstrument(inst domain.Instrument) error {
	dir := s.instrumentDir(inst.Ref())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return writeJSONFile(filepath.Join(dir, assetDescriptor), inst)
}

// ReadInstrument resolves an asset reference against the stored descriptor.
// Missing instruments fail with ErrUnknownInstrument.
func (s *CandleStore) ReadInstrument(ref domain.AssetRef) (domain.Instrument, error) {
	var inst domain.Instrument
	path := filepath.Join(s.instrumentDir(ref), assetDescriptor)
	if err := readJSONFile(path, &inst); err != nil {
		if os.IsNotExist(err) {
			return inst, fmt.Errorf("%w: %s:%s", domain.ErrUnknownInstrument, ref.Exchange, ref.Ticker)
		}
		return inst, fmt.Errorf("reading %s: %w", path, err)
	}
	return inst, nil
}

// ListInstruments scans the store for instrument descriptors.
func (s *CandleStore) ListInstruments() ([]domain.Instrument, error) {
	var out []domain.Instrument
	err := filepath.WalkDir(s.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || d.Name() != assetDescriptor {
			return nil
		}
		var inst domain.Instrument
		if err := readJSONFile(path, &inst); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		out = append(out, inst)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// writeTimeframeDescriptor records the timeframe code in its directory.
func (s *CandleStore) writeTimeframeDescriptor(ref domain.AssetRef, tf domain.Timeframe) error {
	dir := s.tfDir(ref, tf)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return os.WriteFile(filepath.Join(dir, timeframeDescriptor), []byte(tf.String()+"\n"), 0o644)
}

// ---------------------------------------------------------------------------
// Advisory lock
// ---------------------------------------------------------------------------

// Lock takes the advisory ingest lock for an instrument directory. It
// returns an unlock func, or ErrConcurrentIngest when another ingest holds
// the lock.
func (s *CandleStore) Lock(ref domain.AssetRef) (func(), error) {
	dir := s.instrumentDir(ref)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConcurrentIngest, ref.Ticker)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// SaveBars merges bars into the store, routing each bar to the year file
// its open time belongs to. Existing bars at the same open time are
// replaced. Each touched year file is rewritten atomically
// (write-temp-then-rename), so a crash mid-write preserves the old file.
func (s *CandleStore) SaveBars(inst domain.Instrument, tf domain.Timeframe, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	byYear := make(map[int][]domain.Bar)
	for _, b := range bars {
		byYear[b.DT.UTC().Year()] = append(byYear[b.DT.UTC().Year()], b)
	}

	codec := NewCodec(tf, inst.PriceStep)
	ref := inst.Ref()
	for year, group := range byYear {
		existing, err := s.readYear(codec, ref, tf, year)
		if err != nil {
			return err
		}
		merged := mergeBars(existing, group)
		if err := s.writeYear(codec, ref, tf, year, merged); err != nil {
			return err
		}
	}
	if err := s.writeTimeframeDescriptor(ref, tf); err != nil {
		return err
	}
	s.invalidateCache(ref, tf)
	return nil
}

// ReplaceYear atomically replaces one year file with the given bars.
// Re-ingesting a year is therefore idempotent. Bars outside the year are
// rejected.
func (s *CandleStore) ReplaceYear(inst domain.Instrument, tf domain.Timeframe, year int, bars []domain.Bar) error {
	for _, b := range bars {
		if b.DT.UTC().Year() != year {
			return fmt.Errorf("bar %s does not belong to year %d", b.DT, year)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].DT.Before(bars[j].DT) })

	codec := NewCodec(tf, inst.PriceStep)
	ref := inst.Ref()
	if err := s.writeYear(codec, ref, tf, year, bars); err != nil {
		return err
	}
	if err := s.writeTimeframeDescriptor(ref, tf); err != nil {
		return err
	}
	s.invalidateCache(ref, tf)
	return nil
}

func (s *CandleStore) writeYear(codec *Codec, ref domain.AssetRef, tf domain.Timeframe, year int, bars []domain.Bar) error {
	path := s.leafPath(ref, tf, year)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := codec.Write(f, bars); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}

func (s *CandleStore) readYear(codec *Codec, ref domain.AssetRef, tf domain.Timeframe, year int) ([]domain.Bar, error) {
	path := s.leafPath(ref, tf, year)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	defer f.Close()

	bars, err := codec.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// mergeBars deduplicates by open time, preferring incoming bars, and sorts
// the result.
func mergeBars(existing, incoming []domain.Bar) []domain.Bar {
	seen := make(map[int64]domain.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		seen[b.DT.UnixNano()] = b
	}
	for _, b := range incoming {
		seen[b.DT.UnixNano()] = b
	}
	merged := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].DT.Before(merged[j].DT) })
	return merged
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// Years lists the stored years for an (instrument, timeframe), ascending.
func (s *CandleStore) Years(ref domain.AssetRef, tf domain.Timeframe) ([]int, error) {
	entries, err := os.ReadDir(s.tfDir(ref, tf))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSuffix(name, ".csv"))
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// LoadBars reads the half-open window [begin, end) for one
// (instrument, timeframe), merging across year files. A fresh Parquet
// cache is preferred over the CSV scan.
func (s *CandleStore) LoadBars(inst domain.Instrument, tf domain.Timeframe, begin, end time.Time) ([]domain.Bar, error) {
	ref := inst.Ref()

	if cached, ok := s.readCache(ref, tf); ok {
		return clipWindow(cached, begin, end), nil
	}

	years, err := s.Years(ref, tf)
	if err != nil {
		return nil, err
	}
	codec := NewCodec(tf, inst.PriceStep)

	var all []domain.Bar
	for _, year := range years {
		bars, err := s.readYear(codec, ref, tf, year)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}

	if len(all) > 0 {
		if err := s.writeCache(ref, tf, all); err != nil {
			s.log.Warn("cache write failed", "ticker", ref.Ticker, "tf", tf, "err", err)
		}
	}
	return clipWindow(all, begin, end), nil
}

// clipWindow returns bars with begin <= open time < end.
func clipWindow(bars []domain.Bar, begin, end time.Time) []domain.Bar {
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].DT.Before(begin) })
	hi := sort.Search(len(bars), func(i int) bool { return !bars[i].DT.Before(end) })
	return bars[lo:hi]
}

// Load reads the window [begin, end) as a chart with the head at 0.
func (s *CandleStore) Load(inst domain.Instrument, tf domain.Timeframe, begin, end time.Time) (*chart.Chart, error) {
	bars, err := s.LoadBars(inst, tf, begin, end)
	if err != nil {
		return nil, err
	}
	return chart.New(inst, tf, begin, end, bars), nil
}

// FirstDateTime returns the earliest open time stored for the instrument
// across all timeframes; ErrGapInData when nothing is stored.
func (s *CandleStore) FirstDateTime(inst domain.Instrument) (time.Time, error) {
	return s.extreme(inst, true)
}

// LastDateTime returns the latest open time stored for the instrument
// across all timeframes; ErrGapInData when nothing is stored.
func (s *CandleStore) LastDateTime(inst domain.Instrument) (time.Time, error) {
	return s.extreme(inst, false)
}

func (s *CandleStore) extreme(inst domain.Instrument, first bool) (time.Time, error) {
	ref := inst.Ref()
	var result time.Time
	found := false

	for _, tf := range domain.AllTimeframes {
		years, err := s.Years(ref, tf)
		if err != nil || len(years) == 0 {
			continue
		}
		codec := NewCodec(tf, inst.PriceStep)

		year := years[len(years)-1]
		if first {
			year = years[0]
		}
		bars, err := s.readYear(codec, ref, tf, year)
		if err != nil {
			return time.Time{}, err
		}
		if len(bars) == 0 {
			continue
		}
		dt := bars[len(bars)-1].DT
		if first {
			dt = bars[0].DT
		}
		if !found || (first && dt.Before(result)) || (!first && dt.After(result)) {
			result = dt
			found = true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: no bars stored for %s", domain.ErrGapInData, inst.ID())
	}
	return result, nil
}

// LastBarTime returns the open time of the newest stored bar for one
// (instrument, timeframe); ErrGapInData when the timeframe is empty.
func (s *CandleStore) LastBarTime(inst domain.Instrument, tf domain.Timeframe) (time.Time, error) {
	ref := inst.Ref()
	years, err := s.Years(ref, tf)
	if err != nil {
		return time.Time{}, err
	}
	if len(years) == 0 {
		return time.Time{}, fmt.Errorf("%w: %s %s", domain.ErrGapInData, inst.ID(), tf)
	}
	codec := NewCodec(tf, inst.PriceStep)
	bars, err := s.readYear(codec, ref, tf, years[len(years)-1])
	if err != nil {
		return time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, fmt.Errorf("%w: %s %s", domain.ErrGapInData, inst.ID(), tf)
	}
	return bars[len(bars)-1].DT, nil
}

// ---------------------------------------------------------------------------
// Deletion
// ---------------------------------------------------------------------------

// DeleteTimeframe removes all stored bars of one timeframe for the
// instrument.
func (s *CandleStore) DeleteTimeframe(ref domain.AssetRef, tf domain.Timeframe) error {
	s.invalidateCache(ref, tf)
	if err := os.RemoveAll(s.tfDir(ref, tf)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}

// DeleteInstrument removes all stored data for the instrument.
func (s *CandleStore) DeleteInstrument(ref domain.AssetRef) error {
	for _, tf := range domain.AllTimeframes {
		s.invalidateCache(ref, tf)
	}
	if err := os.RemoveAll(s.instrumentDir(ref)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return nil
}
