// Package sequence issues human-readable, zero-padded document numbers from an
// atomic per-company counter.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

// Well-known counter names.
const (
	NameJournalEntry  = "journal_entry"
	NameMoneyMovement = "money_movement"
)

// Width is the zero-padding applied to the numeric part.
const Width = 6

// ErrNameRequired indicates a counter name or prefix was not supplied.
var ErrNameRequired = shared.Classify(shared.ErrValidation, errors.New("sequence: name and prefix required"))

// TxRepository increments counters inside the caller's transaction.
type TxRepository interface {
	IncrementSequence(ctx context.Context, companyID int64, name string) (int64, error)
}

// Allocator formats counter values as document numbers.
type Allocator struct{}

// NewAllocator constructs an Allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next increments the (company, name) counter and returns "PREFIX-000123".
func (a *Allocator) Next(ctx context.Context, tx TxRepository, companyID int64, name, prefix string) (string, error) {
	name = strings.TrimSpace(name)
	prefix = strings.TrimSpace(prefix)
	if name == "" || prefix == "" {
		return "", ErrNameRequired
	}
	value, err := tx.IncrementSequence(ctx, companyID, name)
	if err != nil {
		return "", fmt.Errorf("sequence: increment %s: %w", name, err)
	}
	return Format(prefix, value), nil
}

// Format renders a counter value with the configured padding.
func Format(prefix string, value int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, Width, value)
}
