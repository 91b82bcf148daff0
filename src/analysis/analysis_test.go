package analysis

import (
	"testing"

	"market-feed/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(symbol string, t int64, price, size float64) *models.MEventRecord {
	return models.NewEventRecord(models.TradeSchema.Name, map[string]any{
		models.FieldEventSymbol: symbol, models.FieldTime: t, "price": price, "size": size,
	})
}

// -----------------------------------------------------------------------------

func TestResampleIndices(t *testing.T) {
	windows := ResampleIndices([]int64{0, 10, 59, 60, 250}, 60)

	require.Len(t, windows, 3)
	assert.Equal(t, Window{Indices: []int{0, 1, 2}, StartTime: 0, EndTime: 60}, windows[0])
	assert.Equal(t, Window{Indices: []int{3}, StartTime: 60, EndTime: 120}, windows[1])
	assert.Equal(t, Window{Indices: []int{4}, StartTime: 240, EndTime: 300}, windows[2])

	assert.Nil(t, ResampleIndices(nil, 60))
}

func TestCalculateWindowBoundaries(t *testing.T) {
	start, end := CalculateWindowBoundaries(125, 60)
	assert.Equal(t, int64(120), start)
	assert.Equal(t, int64(180), end)

	start, _ = CalculateWindowBoundaries(-1, 60)
	assert.Equal(t, int64(-60), start)
}

func TestPeriodAttribute(t *testing.T) {
	assert.Equal(t, "1m", PeriodAttribute(60))
	assert.Equal(t, "5m", PeriodAttribute(300))
	assert.Equal(t, "1h", PeriodAttribute(3600))
	assert.Equal(t, "1d", PeriodAttribute(86400))
	assert.Equal(t, "90s", PeriodAttribute(90))
}

func TestCandleBuilderAdd(t *testing.T) {
	cb := NewCandleBuilder(60)

	c := cb.Add(trade("AAPL", 60_000, 10, 1))
	require.NotNil(t, c)
	assert.Equal(t, "AAPL{=1m}", c.Symbol)
	assert.Equal(t, int64(60_000), c.Time)
	assert.Equal(t, int64(60_000), c.Index)

	c = cb.Add(trade("AAPL", 90_000, 12, 3))
	require.NotNil(t, c)
	assert.Equal(t, int64(60_000), c.Index)
	assert.Equal(t, 10.0, c.Float("open"))
	assert.Equal(t, 12.0, c.Float("high"))
	assert.Equal(t, 12.0, c.Float("close"))
	assert.Equal(t, 4.0, c.Float("volume"))
	assert.InDelta(t, 11.5, c.Float("vwap"), 1e-9)

	c = cb.Add(trade("AAPL", 125_000, 11, 1))
	require.NotNil(t, c)
	assert.Equal(t, int64(120_000), c.Index)
	assert.Equal(t, 11.0, c.Float("open"))

	// late trade for a closed bar
	assert.Nil(t, cb.Add(trade("AAPL", 70_000, 99, 1)))
}

func TestCandleBuilderBuild(t *testing.T) {
	cb := NewCandleBuilder(60)
	candles := cb.Build([]*models.MEventRecord{
		trade("IBM", 130_000, 5, 1),
		trade("IBM", 61_000, 3, 1),
		trade("IBM", 62_000, 4, 1),
	})

	require.Len(t, candles, 2)
	assert.Equal(t, int64(60_000), candles[0].Time)
	assert.Equal(t, 3.0, candles[0].Float("open"))
	assert.Equal(t, 4.0, candles[0].Float("close"))
	assert.Equal(t, int64(120_000), candles[1].Time)
	assert.Equal(t, "IBM{=1m}", candles[1].Symbol)

	assert.Nil(t, cb.Build(nil))

	// a live trade merges into the newest built bar
	c := cb.Add(trade("IBM", 150_000, 6, 2))
	require.NotNil(t, c)
	assert.Equal(t, int64(120_000), c.Index)
	assert.Equal(t, 5.0, c.Float("open"))
	assert.Equal(t, 6.0, c.Float("close"))
	assert.Equal(t, 3.0, c.Float("volume"))
}

func TestSummarize(t *testing.T) {
	cb := NewCandleBuilder(60)
	candles := cb.Build([]*models.MEventRecord{
		trade("AAPL", 0, 10, 1),
		trade("AAPL", 60_000, 11, 2),
		trade("AAPL", 120_000, 12, 3),
	})

	s := Summarize("AAPL{=1m}", candles)
	assert.Equal(t, 3, s.Candles)
	assert.Equal(t, int64(0), s.FirstTime)
	assert.Equal(t, int64(120_000), s.LastTime)
	assert.Equal(t, 12.0, s.LastClose)
	assert.InDelta(t, 20.0, s.ChangePercent, 1e-9)
	assert.Equal(t, 11.0, s.MeanClose)
	assert.InDelta(t, 1.0, s.PriceVolumeCorrelation, 1e-9)
	assert.Greater(t, s.VolumeZScore, 0.0)

	assert.Equal(t, 0, Summarize("X", nil).Candles)
}
