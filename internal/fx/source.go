// Package fx resolves exchange rates used to convert payroll bases between currencies.
package fx

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Source returns the latest rate quoting one unit of base in quote, dated on
// or before asOf. ok is false when no rate is known.
type Source interface {
	LatestRate(ctx context.Context, base, quote string, asOf time.Time) (rate decimal.Decimal, ok bool, err error)
}

// Repository reads rates from the fx_rates table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx rate repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LatestRate implements Source.
func (r *Repository) LatestRate(ctx context.Context, base, quote string, asOf time.Time) (decimal.Decimal, bool, error) {
	base, quote = normalize(base), normalize(quote)
	if base == quote {
		return decimal.NewFromInt(1), true, nil
	}
	var rate decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT rate FROM fx_rates
WHERE base_currency=$1 AND quote_currency=$2 AND rate_date <= $3
ORDER BY rate_date DESC LIMIT 1`, base, quote, asOf).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, rate.IsPositive(), nil
}

// UpsertRates stores quotes, replacing any rate already recorded for the
// same pair and date.
func (r *Repository) UpsertRates(ctx context.Context, quotes []Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(`INSERT INTO fx_rates (base_currency, quote_currency, rate_date, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (base_currency, quote_currency, rate_date) DO UPDATE SET rate = EXCLUDED.rate`,
			normalize(q.Base), normalize(q.Quote), q.Date, q.Rate)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range quotes {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Quote is one dated rate.
type Quote struct {
	Base  string
	Quote string
	Date  time.Time
	Rate  decimal.Decimal
}

// StaticSource serves fixed quotes from memory.
type StaticSource struct {
	Quotes []Quote
}

// LatestRate implements Source.
func (s StaticSource) LatestRate(_ context.Context, base, quote string, asOf time.Time) (decimal.Decimal, bool, error) {
	base, quote = normalize(base), normalize(quote)
	if base == quote {
		return decimal.NewFromInt(1), true, nil
	}
	var best *Quote
	for i := range s.Quotes {
		q := &s.Quotes[i]
		if normalize(q.Base) != base || normalize(q.Quote) != quote || q.Date.After(asOf) {
			continue
		}
		if best == nil || q.Date.After(best.Date) {
			best = q
		}
	}
	if best == nil || !best.Rate.IsPositive() {
		return decimal.Zero, false, nil
	}
	return best.Rate, true, nil
}

// RateOrParity returns the rate from source, falling back to 1 when none is
// known. A nil source always yields parity.
func RateOrParity(ctx context.Context, source Source, logger *slog.Logger, base, quote string, asOf time.Time) (decimal.Decimal, error) {
	if source == nil || normalize(base) == normalize(quote) {
		return decimal.NewFromInt(1), nil
	}
	rate, ok, err := source.LatestRate(ctx, base, quote, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		if logger != nil {
			logger.Warn("fx rate missing, using parity",
				slog.String("base", base),
				slog.String("quote", quote),
				slog.Time("as_of", asOf),
			)
		}
		return decimal.NewFromInt(1), nil
	}
	return rate, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
