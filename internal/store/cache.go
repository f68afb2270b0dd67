package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"arbat/internal/domain"
)

// ---------------------------------------------------------------------------
// Parquet read cache
//
// The canonical store is CSV; the cache keeps a per-(instrument, timeframe)
// Parquet file under CacheDir and is consulted on load when it is newer
// than every CSV year file. Any write to a timeframe invalidates its cache.
// ---------------------------------------------------------------------------

// barRecord is the Parquet schema for cached bars.
type barRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Value     float64 `parquet:"value"`
	Volume    int64   `parquet:"volume"`
}

// cachePath returns <CacheDir>/<EXCHANGE>/<CLASS>/<TICKER>/<TF>.parquet.
func (s *CandleStore) cachePath(ref domain.AssetRef, tf domain.Timeframe) string {
	return filepath.Join(s.CacheDir, string(ref.Exchange), string(ref.Class),
		strings.ToUpper(ref.Ticker), string(tf)+".parquet")
}

// readCache returns all cached bars for the timeframe when the cache is
// fresh, i.e. newer than every CSV year file.
func (s *CandleStore) readCache(ref domain.AssetRef, tf domain.Timeframe) ([]domain.Bar, bool) {
	if s.CacheDir == "" {
		return nil, false
	}
	path := s.cachePath(ref, tf)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if !s.cacheFresh(ref, tf, info.ModTime()) {
		return nil, false
	}

	records, err := parquet.ReadFile[barRecord](path)
	if err != nil {
		s.log.Warn("cache read failed", "path", path, "err", err)
		return nil, false
	}
	bars := make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = domain.Bar{
			DT:     time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Value:  r.Value,
			Volume: r.Volume,
		}
	}
	return bars, true
}

// cacheFresh reports whether the cache mtime is newer than every CSV leaf.
func (s *CandleStore) cacheFresh(ref domain.AssetRef, tf domain.Timeframe, cacheTime time.Time) bool {
	entries, err := os.ReadDir(s.tfDir(ref, tf))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return false
		}
		if info.ModTime().After(cacheTime) {
			return false
		}
	}
	return true
}

// writeCache materialises the full bar sequence of a timeframe into its
// Parquet cache file.
func (s *CandleStore) writeCache(ref domain.AssetRef, tf domain.Timeframe, bars []domain.Bar) error {
	if s.CacheDir == "" {
		return nil
	}
	path := s.cachePath(ref, tf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIO, err)
	}

	records := make([]barRecord, len(bars))
	for i, b := range bars {
		records[i] = barRecord{
			Timestamp: b.DT.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Value:     b.Value,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(path, records)
}

// invalidateCache drops the cache file for a timeframe.
func (s *CandleStore) invalidateCache(ref domain.AssetRef, tf domain.Timeframe) {
	if s.CacheDir == "" {
		return
	}
	os.Remove(s.cachePath(ref, tf))
}
