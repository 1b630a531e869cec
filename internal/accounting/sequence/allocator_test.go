package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

type counterTx struct {
	values map[string]int64
	err    error
}

func (c *counterTx) IncrementSequence(ctx context.Context, companyID int64, name string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	key := name
	if companyID == 2 {
		key = "2:" + name
	}
	c.values[key]++
	return c.values[key], nil
}

func TestNextFormatsZeroPadded(t *testing.T) {
	tx := &counterTx{values: map[string]int64{}}
	alloc := NewAllocator()

	first, err := alloc.Next(context.Background(), tx, 1, NameJournalEntry, "JE")
	require.NoError(t, err)
	require.Equal(t, "JE-000001", first)

	second, err := alloc.Next(context.Background(), tx, 1, NameJournalEntry, "JE")
	require.NoError(t, err)
	require.Equal(t, "JE-000002", second)

	other, err := alloc.Next(context.Background(), tx, 2, NameJournalEntry, "JE")
	require.NoError(t, err)
	require.Equal(t, "JE-000001", other)
}

func TestNextRequiresNameAndPrefix(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Next(context.Background(), &counterTx{values: map[string]int64{}}, 1, " ", "JE")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = alloc.Next(context.Background(), &counterTx{values: map[string]int64{}}, 1, NameJournalEntry, "")
	require.ErrorIs(t, err, ErrNameRequired)
}

func TestNextPropagatesStorageError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewAllocator().Next(context.Background(), &counterTx{err: boom}, 1, NameMoneyMovement, "MVT")
	require.ErrorIs(t, err, boom)
}

func TestFormatWidensBeyondPadding(t *testing.T) {
	require.Equal(t, "MVT-1234567", Format("MVT", 1234567))
	require.Equal(t, "MVT-000123", Format("MVT", 123))
}
