package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStoreStreams(t *testing.T) {
	hs := NewHistoryStore(10, 0, nil)
	hs.Add(
		rec("Trade", "AAPL", 10, 0),
		rec("Trade", "IBM", 15, 0),
		rec("Trade", "AAPL", 20, 0),
		rec("Quote", "AAPL", 12, 0),
	)

	assert.Equal(t, 3, hs.StreamCount())
	require.NotNil(t, hs.Latest("Trade", "AAPL"))
	assert.Equal(t, int64(20), hs.Latest("Trade", "AAPL").Time)
	assert.Nil(t, hs.Latest("Candle", "AAPL"))

	assert.Equal(t, []int64{20}, times(hs.Since("Trade", "AAPL", 11)))
	assert.Nil(t, hs.Since("Trade", "MSFT", 0))

	earliest, ok := hs.EarliestTime()
	require.True(t, ok)
	assert.Equal(t, int64(10), earliest)
}

func TestHistoryStoreBetweenMergesInTimeOrder(t *testing.T) {
	hs := NewHistoryStore(10, 0, nil)
	hs.Add(
		rec("Trade", "AAPL", 10, 0),
		rec("Trade", "AAPL", 30, 0),
		rec("Trade", "IBM", 20, 0),
		rec("Quote", "AAPL", 25, 0),
		rec("Trade", "IBM", 50, 0),
	)

	got := hs.Between(map[string][]string{
		"Trade": {"AAPL", "IBM"},
		"Quote": {"AAPL"},
	}, 10, 50)

	assert.Equal(t, []int64{10, 20, 25, 30}, times(got))
}

func TestHistoryStoreCleanup(t *testing.T) {
	hs := NewHistoryStore(10, 0, nil)
	hs.Add(rec("Trade", "AAPL", 10, 0))
	hs.Cleanup()

	assert.Equal(t, 0, hs.StreamCount())
	_, ok := hs.EarliestTime()
	assert.False(t, ok)
}

func TestCalculateMaxDataPoints(t *testing.T) {
	assert.Equal(t, DefaultHistorySize, CalculateMaxDataPoints(0, 60))
	// one trading day of minute bars
	assert.Equal(t, 390, CalculateMaxDataPoints(1, 60))
}
