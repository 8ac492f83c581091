// Package barload reads OHLCV bars from CSV files.
//
// Prices are parsed as exact decimals so that OHLC consistency checks are not
// subject to float rounding, then converted once to float64 for the engine.
package barload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"taengine/internal/model"
)

var (
	ErrNoData        = errors.New("barload: no bars in input")
	ErrMissingColumn = errors.New("barload: missing column")
	ErrInvalidBar    = errors.New("barload: invalid bar")
	ErrUnordered     = errors.New("barload: timestamps not increasing")
)

// Options holds options for CSV loading.
type Options struct {
	Delimiter rune   // field delimiter (default ',')
	Symbol    string // keep only rows whose symbol column equals Symbol
	// TimeFormat is tried before the built-in layouts. Integer timestamps are
	// always read as unix seconds.
	TimeFormat string
	// Decimals rounds prices to this many places when >= 0.
	Decimals int32
	// SkipInvalid drops malformed rows instead of failing.
	SkipInvalid bool
}

// DefaultOptions returns default options for CSV loading.
func DefaultOptions() Options {
	return Options{Delimiter: ',', Decimals: -1}
}

var columnAliases = map[string]string{
	"date": "time", "datetime": "time", "timestamp": "time", "ts": "time", "time": "time",
	"open": "open", "o": "open",
	"high": "high", "h": "high",
	"low": "low", "l": "low",
	"close": "close", "c": "close", "adj_close": "close",
	"volume": "volume", "vol": "volume", "v": "volume",
	"symbol": "symbol", "ticker": "symbol",
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02-Jan-2006",
}

// Load loads bars from a CSV file.
func Load(filename string, opts Options) (*model.BarSeries, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadReader(file, opts)
}

// LoadReader loads bars from r. The first row is a header naming the columns
// (case-insensitive, common aliases accepted); open, high, low and close are
// required, time, volume and symbol are optional.
func LoadReader(r io.Reader, opts Options) (*model.BarSeries, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoData
	}
	if err != nil {
		return nil, err
	}
	cols := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.Trim(h, "\"")))
		if canon, ok := columnAliases[key]; ok {
			if _, dup := cols[canon]; !dup {
				cols[canon] = i
			}
		}
	}
	for _, need := range []string{"open", "high", "low", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, need)
		}
	}
	if _, ok := cols["symbol"]; opts.Symbol != "" && !ok {
		return nil, fmt.Errorf("%w: symbol (filtering by %q)", ErrMissingColumn, opts.Symbol)
	}

	var (
		bars  []model.Bar
		times []time.Time
	)
	_, hasTime := cols["time"]
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if opts.Symbol != "" && field(record, cols["symbol"]) != opts.Symbol {
			continue
		}
		bar, ts, err := parseRow(record, cols, hasTime, opts)
		if err != nil {
			if opts.SkipInvalid {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if hasTime && len(times) > 0 && !ts.After(times[len(times)-1]) {
			return nil, fmt.Errorf("%w: line %d at %s", ErrUnordered, line, ts.Format(time.RFC3339))
		}
		bars = append(bars, bar)
		if hasTime {
			times = append(times, ts)
		}
	}

	if len(bars) == 0 {
		return nil, ErrNoData
	}
	s, err := model.FromBars(bars)
	if err != nil {
		return nil, err
	}
	if hasTime {
		return s.WithTimes(times)
	}
	return s, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(record[i], "\""))
}

func parseRow(record []string, cols map[string]int, hasTime bool, opts Options) (model.Bar, time.Time, error) {
	var px [4]decimal.Decimal
	for k, name := range []string{"open", "high", "low", "close"} {
		d, err := decimal.NewFromString(field(record, cols[name]))
		if err != nil {
			return model.Bar{}, time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidBar, name, err)
		}
		if opts.Decimals >= 0 {
			d = d.Round(opts.Decimals)
		}
		px[k] = d
	}
	open, high, low, closePx := px[0], px[1], px[2], px[3]
	if high.LessThan(low) || high.LessThan(decimal.Max(open, closePx)) || low.GreaterThan(decimal.Min(open, closePx)) {
		return model.Bar{}, time.Time{}, fmt.Errorf("%w: high %s low %s outside open %s close %s",
			ErrInvalidBar, high, low, open, closePx)
	}

	volume := decimal.Zero
	if i, ok := cols["volume"]; ok {
		if v := field(record, i); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return model.Bar{}, time.Time{}, fmt.Errorf("%w: volume: %v", ErrInvalidBar, err)
			}
			if d.IsNegative() {
				return model.Bar{}, time.Time{}, fmt.Errorf("%w: negative volume %s", ErrInvalidBar, d)
			}
			volume = d
		}
	}

	var ts time.Time
	if hasTime {
		var err error
		ts, err = parseTime(field(record, cols["time"]), opts.TimeFormat)
		if err != nil {
			return model.Bar{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidBar, err)
		}
	}

	return model.Bar{
		Open:   open.InexactFloat64(),
		High:   high.InexactFloat64(),
		Low:    low.InexactFloat64(),
		Close:  closePx.InexactFloat64(),
		Volume: volume.InexactFloat64(),
	}, ts, nil
}

func parseTime(s, layout string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	layouts := timeLayouts
	if layout != "" {
		layouts = append([]string{layout}, timeLayouts...)
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// Write writes s as CSV with a header. Timestamps are written as RFC 3339
// when present. Prices use the shortest decimal form that reads back to the
// same float64.
func Write(w io.Writer, s *model.BarSeries) error {
	cw := csv.NewWriter(w)
	times := s.Times()
	header := []string{"open", "high", "low", "close", "volume"}
	if times != nil {
		header = append([]string{"time"}, header...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < s.Len(); i++ {
		b := s.Bar(i)
		row := make([]string, 0, len(header))
		if times != nil {
			row = append(row, times[i].Format(time.RFC3339))
		}
		for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
			row = append(row, decimal.NewFromFloat(v).String())
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
