package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgerpay/internal/fx"
)

// RateWriter persists exchange rates.
type RateWriter interface {
	UpsertRates(ctx context.Context, quotes []fx.Quote) error
}

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry previews the parsed rates without writing them.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply persists rates after confirmation.
	FXImportModeApply FXImportMode = "apply"
)

// FXImportOptions configures the import command execution.
type FXImportOptions struct {
	Source       string
	SourceReader io.Reader
	Mode         FXImportMode
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXImportRow is one parsed rate.
type FXImportRow struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Date  string `json:"date"`
	Rate  string `json:"rate"`
}

// FXImportSummary captures the structured reporting outcome.
type FXImportSummary struct {
	Mode    FXImportMode  `json:"mode"`
	Rows    []FXImportRow `json:"rows"`
	Applied int           `json:"applied"`
}

// FXOpsCLI offers operational helpers to manage the rates used by payroll.
type FXOpsCLI struct {
	writer RateWriter
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(writer RateWriter) (*FXOpsCLI, error) {
	if writer == nil {
		return nil, errors.New("fx cli: rate writer required")
	}
	return &FXOpsCLI{writer: writer}, nil
}

// ImportCommand parses a CSV of base,quote,date,rate rows and upserts them.
// It returns the process exit code.
func (c *FXOpsCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = FXImportModeDry
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case FXImportModeDry, FXImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	quotes, err := loadQuotes(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	summary := FXImportSummary{Mode: mode, Rows: summarize(quotes)}
	if mode == FXImportModeDry || len(quotes) == 0 {
		if err := writeImportOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
			return 1
		}
		return 0
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultImportConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "fx import: cancelled by user")
		return 1
	}
	if err := c.writer.UpsertRates(ctx, quotes); err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: apply failed: %v\n", err)
		return 1
	}
	summary.Applied = len(quotes)
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	return 0
}

func loadQuotes(opts FXImportOptions) ([]fx.Quote, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--file is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	indexes := map[string]int{"base": -1, "quote": -1, "date": -1, "rate": -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "base", "base_currency":
			indexes["base"] = i
		case "quote", "quote_currency":
			indexes["quote"] = i
		case "date", "rate_date":
			indexes["date"] = i
		case "rate":
			indexes["rate"] = i
		}
	}
	for _, col := range []string{"base", "quote", "date", "rate"} {
		if indexes[col] < 0 {
			return nil, errors.New("missing required columns in source (need base, quote, date, rate)")
		}
	}
	seen := make(map[string]int)
	var quotes []fx.Quote
	line := 1
	for {
		record, err := nextNonEmptyRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		line++
		for _, idx := range indexes {
			if idx >= len(record) {
				return nil, fmt.Errorf("row %d: invalid record length", line)
			}
		}
		base := strings.ToUpper(strings.TrimSpace(record[indexes["base"]]))
		quote := strings.ToUpper(strings.TrimSpace(record[indexes["quote"]]))
		if len(base) != 3 || len(quote) != 3 || base == quote {
			return nil, fmt.Errorf("row %d: invalid currency pair %s/%s", line, base, quote)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[indexes["date"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid date (expected YYYY-MM-DD)", line)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record[indexes["rate"]]))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("row %d: rate must be a positive number", line)
		}
		key := base + quote + date.Format("20060102")
		q := fx.Quote{Base: base, Quote: quote, Date: date, Rate: rate}
		if idx, dup := seen[key]; dup {
			quotes[idx] = q
			continue
		}
		seen[key] = len(quotes)
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].Base+quotes[i].Quote != quotes[j].Base+quotes[j].Quote {
			return quotes[i].Base+quotes[i].Quote < quotes[j].Base+quotes[j].Quote
		}
		return quotes[i].Date.Before(quotes[j].Date)
	})
	return quotes, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				return record, nil
			}
		}
	}
}

func summarize(quotes []fx.Quote) []FXImportRow {
	rows := make([]FXImportRow, len(quotes))
	for i, q := range quotes {
		rows[i] = FXImportRow{Base: q.Base, Quote: q.Quote, Date: q.Date.Format("2006-01-02"), Rate: q.Rate.String()}
	}
	return rows
}

func writeImportOutput(opts FXImportOptions, summary FXImportSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	fmt.Fprintf(opts.Stdout, "FX import (%s): %d rate(s)\n", summary.Mode, len(summary.Rows))
	for _, row := range summary.Rows {
		fmt.Fprintf(opts.Stdout, " - %s/%s %s %s\n", row.Base, row.Quote, row.Date, row.Rate)
	}
	if summary.Applied > 0 {
		fmt.Fprintf(opts.Stdout, "Applied %d rate(s).\n", summary.Applied)
	}
	return nil
}

func defaultImportConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply FX import? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
