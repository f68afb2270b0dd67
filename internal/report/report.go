package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Report is the aggregate view of one trade list. Max drawdown is computed
// over the running balance of results in list order, starting from zero.
type Report struct {
	Name         string
	Trades       int
	WinRate      float64
	Total        float64
	Avg          float64
	Median       float64
	MaxDD        float64
	AvgHoldDays  float64
	ProfitFactor float64
	Expectancy   float64
	Long         int
	Short        int
	Win          int
	Loss         int
	Years        []int
}

// NewReport computes the metrics of one trade list.
func NewReport(tl *TradeList) Report {
	r := Report{Name: tl.Name, Trades: tl.Len(), Years: tl.Years()}
	if r.Trades == 0 {
		return r
	}

	var grossProfit, grossLoss float64
	var holdDays int
	var balance, peak, maxDD float64
	results := make([]float64, 0, r.Trades)

	for _, t := range tl.Trades {
		results = append(results, t.Result)
		r.Total += t.Result
		holdDays += t.HoldingDays
		if t.IsLong() {
			r.Long++
		} else {
			r.Short++
		}
		if t.IsWin() {
			r.Win++
			grossProfit += t.Result
		} else {
			r.Loss++
			grossLoss += -t.Result
		}

		balance += t.Result
		if balance > peak {
			peak = balance
		}
		if dd := peak - balance; dd > maxDD {
			maxDD = dd
		}
	}

	n := float64(r.Trades)
	r.WinRate = float64(r.Win) / n
	r.Avg = r.Total / n
	r.Median = median(results)
	r.MaxDD = maxDD
	r.AvgHoldDays = float64(holdDays) / n
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	}
	r.Expectancy = r.Total / n
	return r
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

// csvHeader is the fixed column order of report.csv.
const csvHeader = "name;trades;win_rate;total;avg;median;max_dd;avg_hold_days;profit_factor;expectancy;long;short;win;loss;years"

// Standard builds the conventional report set for a root list: the root
// itself plus its long/short/win/loss splits and one row per open year.
func Standard(tl *TradeList) []Report {
	reports := []Report{
		NewReport(tl),
		NewReport(tl.SelectLong()),
		NewReport(tl.SelectShort()),
		NewReport(tl.SelectWin()),
		NewReport(tl.SelectLoss()),
	}
	for _, y := range tl.Years() {
		reports = append(reports, NewReport(tl.SelectYear(y)))
	}
	return reports
}

// WriteCSV emits the header and one row per report, in the given order.
func WriteCSV(w io.Writer, reports ...Report) error {
	if _, err := fmt.Fprintln(w, csvHeader); err != nil {
		return err
	}
	for _, r := range reports {
		if _, err := fmt.Fprintln(w, r.row()); err != nil {
			return err
		}
	}
	return nil
}

func (r Report) row() string {
	years := make([]string, len(r.Years))
	for i, y := range r.Years {
		years[i] = strconv.Itoa(y)
	}
	fields := []string{
		r.Name,
		strconv.Itoa(r.Trades),
		strconv.FormatFloat(r.WinRate, 'f', 4, 64),
		strconv.FormatFloat(r.Total, 'f', 2, 64),
		strconv.FormatFloat(r.Avg, 'f', 2, 64),
		strconv.FormatFloat(r.Median, 'f', 2, 64),
		strconv.FormatFloat(r.MaxDD, 'f', 2, 64),
		strconv.FormatFloat(r.AvgHoldDays, 'f', 2, 64),
		strconv.FormatFloat(r.ProfitFactor, 'f', 4, 64),
		strconv.FormatFloat(r.Expectancy, 'f', 2, 64),
		strconv.Itoa(r.Long),
		strconv.Itoa(r.Short),
		strconv.Itoa(r.Win),
		strconv.Itoa(r.Loss),
		strings.Join(years, ","),
	}
	return strings.Join(fields, ";")
}
