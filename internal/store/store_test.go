package store

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *TransactionLog {
	t.Helper()
	l, err := NewTransactionLog(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestTransactionLogAppendAndRecent(t *testing.T) {
	l := newTestLog(t)

	l.Append("1", "buy", decimal.NewFromInt(1), decimal.NewFromFloat(100.5), "FILLED")
	l.Append("2", "sell", decimal.NewFromFloat(0.4), decimal.NewFromInt(101), "CANCELED")

	recs, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// 最新在前
	assert.Equal(t, "2", recs[0].OrderID)
	assert.Equal(t, "sell", recs[0].Side)
	assert.True(t, recs[0].Size.Equal(decimal.NewFromFloat(0.4)))
	assert.Equal(t, "1", recs[1].OrderID)
	assert.True(t, recs[1].Price.Equal(decimal.NewFromFloat(100.5)))
}

func TestTransactionLogRecentLimit(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		l.Append("x", "buy", decimal.NewFromInt(1), decimal.NewFromInt(100), "FILLED")
	}
	recs, err := l.Recent(3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestTransactionLogNilReceiverIsSafe(t *testing.T) {
	var l *TransactionLog
	l.Append("1", "buy", decimal.NewFromInt(1), decimal.NewFromInt(100), "FILLED")
	recs, err := l.Recent(10)
	assert.NoError(t, err)
	assert.Nil(t, recs)
	assert.NoError(t, l.Close())
}

func TestNewTransactionLogRejectsEmptyPath(t *testing.T) {
	_, err := NewTransactionLog("  ")
	assert.Error(t, err)
}
