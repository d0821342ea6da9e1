// Package helpers provides fixtures shared by the cache's test suites.
package helpers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/backtest-cache/internal/hashing"
	"github.com/yourusername/backtest-cache/internal/models"
)

// SampleCSV is a five-row OHLCV file with a header line.
const SampleCSV = `Date,Open,High,Low,Close,Volume
2023-01-01,100,101,99,100.5,1000
2023-01-02,100.5,102,100,101.5,1100
2023-01-03,101.5,103,101,102,1200
2023-01-04,102,102.5,100.5,101,900
2023-01-05,101,101.5,99.5,100,950
`

// SampleConfig is a moving-average crossover strategy.
func SampleConfig() map[string]any {
	return map[string]any{"type": "sma_cross", "fast": 10, "slow": 20}
}

// SampleParams are typical run parameters.
func SampleParams() map[string]any {
	return map[string]any{"initial_capital": 10000, "commission": 0.002, "slippage": 0.001}
}

// SampleSimulation is the output of a short backtest. It mixes int and float values so
// backends that persist through JSON are checked against the in-memory form.
func SampleSimulation() map[string]any {
	return map[string]any{
		"stats": map[string]any{"total_return": 0.0123, "sharpe_ratio": 1.1, "max_drawdown": -0.02, "num_trades": 2},
		"equity_curve": []any{
			map[string]any{"date": "2023-01-01", "equity": 10000.0},
			map[string]any{"date": "2023-01-05", "equity": 10123.0},
		},
		"trades": []any{
			map[string]any{"date": "2023-01-02", "side": "buy", "price": 100.5, "qty": 10},
			map[string]any{"date": "2023-01-04", "side": "sell", "price": 101.0, "qty": 10},
		},
	}
}

// NewRecord builds a valid record for (data, config, params) created at createdAt.
func NewRecord(t testing.TB, data string, config, params map[string]any, createdAt time.Time) *models.BacktestRecord {
	t.Helper()

	identity, err := hashing.ComputeIdentity([]byte(data), config, params)
	require.NoError(t, err)

	result, err := models.NewResultFromSimulation(SampleSimulation())
	require.NoError(t, err)

	record, err := models.NewBacktestRecord(identity, models.NewBacktestMetadata(createdAt, 2*time.Second, models.DataDescription{
		Filename:  "prices.csv",
		SizeBytes: int64(len(data)),
		Rows:      5,
	}), result)
	require.NoError(t, err)
	return record
}

// RecordWithFast builds a record over SampleCSV whose config differs only in the fast
// window, so every distinct fast value yields a distinct master hash sharing one data hash.
func RecordWithFast(t testing.TB, fast int, createdAt time.Time) *models.BacktestRecord {
	t.Helper()
	config := SampleConfig()
	config["fast"] = fast
	return NewRecord(t, SampleCSV, config, SampleParams(), createdAt)
}

// RecordWithData builds a record over distinct data sharing SampleConfig.
func RecordWithData(t testing.TB, suffix string, createdAt time.Time) *models.BacktestRecord {
	t.Helper()
	return NewRecord(t, SampleCSV+fmt.Sprintf("# %s\n", suffix), SampleConfig(), SampleParams(), createdAt)
}

// FakeClock is a settable clock safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// WaitForCondition waits for a condition to become true or times out.
func WaitForCondition(t testing.TB, timeout time.Duration, condition func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Fail(t, "condition not met within timeout", message)
}
