package store

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arbat/internal/domain"
	"arbat/internal/util"
)

// csvHeader is the canonical candle CSV header. One bar per line,
// semicolon-separated, UTF-8, LF-terminated, strictly increasing begin.
const csvHeader = "begin;end;open;high;low;close;value;volume"

// csvTimeLayout is ISO-8601 UTC with second precision.
const csvTimeLayout = "2006-01-02T15:04:05Z"

// Codec reads and writes bars in the canonical CSV form for one
// (instrument, timeframe). Prices are emitted with the asset's price-step
// precision.
type Codec struct {
	TF        domain.Timeframe
	PriceStep float64
	cal       *util.Calendar
	decimals  int32
}

// NewCodec builds a codec for the given timeframe and price step.
func NewCodec(tf domain.Timeframe, priceStep float64) *Codec {
	return &Codec{
		TF:        tf,
		PriceStep: priceStep,
		cal:       util.Moex(),
		decimals:  stepDecimals(priceStep),
	}
}

// stepDecimals returns the number of decimal places of the price step.
// A zero step falls back to two decimals.
func stepDecimals(step float64) int32 {
	if step <= 0 {
		return 2
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// Write emits bars as canonical CSV.
func (c *Codec) Write(w io.Writer, bars []domain.Bar) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(csvHeader + "\n"); err != nil {
		return err
	}
	for _, b := range bars {
		end := c.cal.NextBucket(c.TF, b.DT)
		line := strings.Join([]string{
			b.DT.UTC().Format(csvTimeLayout),
			end.UTC().Format(csvTimeLayout),
			c.price(b.Open),
			c.price(b.High),
			c.price(b.Low),
			c.price(b.Close),
			strconv.FormatFloat(b.Value, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}, ";")
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// price formats a price at the price-step precision.
func (c *Codec) price(v float64) string {
	return decimal.NewFromFloat(v).Round(c.decimals).StringFixed(c.decimals)
}

// Read parses canonical CSV, validating the header, the OHLC invariant,
// and strict open-time ordering. Malformed input fails with ErrCorruptStore.
func (c *Codec) Read(r io.Reader) ([]domain.Bar, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty file", domain.ErrCorruptStore)
	}
	if got := strings.TrimSpace(sc.Text()); got != csvHeader {
		return nil, fmt.Errorf("%w: bad header %q", domain.ErrCorruptStore, got)
	}

	var bars []domain.Bar
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		b, err := c.parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrCorruptStore, lineNo, err)
		}
		if n := len(bars); n > 0 && !bars[n-1].DT.Before(b.DT) {
			return nil, fmt.Errorf("%w: line %d: bar %s not after %s",
				domain.ErrCorruptStore, lineNo, b.DT.Format(csvTimeLayout), bars[n-1].DT.Format(csvTimeLayout))
		}
		bars = append(bars, b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return bars, nil
}

func (c *Codec) parseLine(line string) (domain.Bar, error) {
	fields := strings.Split(line, ";")
	if len(fields) != 8 {
		return domain.Bar{}, fmt.Errorf("want 8 fields, got %d", len(fields))
	}

	begin, err := time.Parse(csvTimeLayout, fields[0])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("begin: %v", err)
	}

	var prices [4]float64
	for i, name := range []string{"open", "high", "low", "close"} {
		v, err := strconv.ParseFloat(fields[2+i], 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("%s: %v", name, err)
		}
		prices[i] = v
	}

	value, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("value: %v", err)
	}
	volume, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("volume: %v", err)
	}

	b := domain.Bar{
		DT:     begin.UTC(),
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Value:  value,
		Volume: volume,
	}
	if !b.Valid() {
		return domain.Bar{}, fmt.Errorf("OHLC invariant violated")
	}
	return b, nil
}
