package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSV_WritesRows(t *testing.T) {
	dir := t.TempDir()
	tradesPath := filepath.Join(dir, "trades.csv")
	equityPath := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(tradesPath, equityPath)
	require.NoError(t, err)

	exit := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(testRecord("run-1", "t-1", 2500, exit)))
	require.NoError(t, j.RecordEquity(EquityRecord{
		RunID: "run-1", Time: exit, Balance: 102_500, Cash: 102_500, DailyPnL: 2500,
	}))
	require.NoError(t, j.Close())

	tf, err := os.Open(tradesPath)
	require.NoError(t, err)
	defer tf.Close()

	rows, err := csv.NewReader(tf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus one trade")
	assert.Equal(t, "trade_id", rows[0][0])
	assert.Equal(t, "t-1", rows[1][0])
	assert.Equal(t, "AAPL", rows[1][2])
	assert.Equal(t, "2500", rows[1][8])

	ef, err := os.Open(equityPath)
	require.NoError(t, err)
	defer ef.Close()

	eq, err := csv.NewReader(ef).ReadAll()
	require.NoError(t, err)
	require.Len(t, eq, 2)
	assert.Equal(t, "102500", eq[1][2])
}
