package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type recordingTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *recordingTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *recordingTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type recordingStarter struct {
	opts pgx.TxOptions
	tx   *recordingTx
}

func (s *recordingStarter) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	s.opts = opts
	s.tx = &recordingTx{}
	return s.tx, nil
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	starter := &recordingStarter{}
	err := WithTx(context.Background(), starter, func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.Equal(t, pgx.RepeatableRead, starter.opts.IsoLevel)
	require.True(t, starter.tx.committed)
	require.False(t, starter.tx.rolledBack)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	starter := &recordingStarter{}
	boom := errors.New("boom")
	err := WithTx(context.Background(), starter, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, starter.tx.committed)
	require.True(t, starter.tx.rolledBack)
}
