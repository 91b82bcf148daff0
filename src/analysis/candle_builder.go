package analysis

import (
	"fmt"
	"sort"
	"sync"

	"market-feed/src/analysis/core"
	"market-feed/src/models"
	"market-feed/src/symbols"
)

// -----------------------------------------------------------------------------
// CandleBuilder turns trades into Candle time-series events. The bar being
// built is republished on every trade under the same index, so consumers
// always hold the latest state of each bar.
// -----------------------------------------------------------------------------

type CandleBuilder struct {
	periodMillis int64
	period       string
	mu           sync.Mutex
	open         map[string]*bar // by trade symbol
}

type bar struct {
	start int64
	ohlcv core.OHLCV
}

// -----------------------------------------------------------------------------

func NewCandleBuilder(periodSeconds int) *CandleBuilder {
	if periodSeconds <= 0 {
		periodSeconds = 60
	}
	return &CandleBuilder{
		periodMillis: int64(periodSeconds) * 1000,
		period:       PeriodAttribute(periodSeconds),
		open:         make(map[string]*bar),
	}
}

// PeriodAttribute spells a candle period the way candle symbols carry it.
func PeriodAttribute(periodSeconds int) string {
	switch {
	case periodSeconds%86400 == 0:
		return fmt.Sprintf("%dd", periodSeconds/86400)
	case periodSeconds%3600 == 0:
		return fmt.Sprintf("%dh", periodSeconds/3600)
	case periodSeconds%60 == 0:
		return fmt.Sprintf("%dm", periodSeconds/60)
	default:
		return fmt.Sprintf("%ds", periodSeconds)
	}
}

// CandleSymbol returns the candle symbol of symbol for this builder's period,
// e.g. AAPL{=1m}.
func (cb *CandleBuilder) CandleSymbol(symbol string) string {
	return symbols.ChangeAttribute(symbol, "", &cb.period)
}

// -----------------------------------------------------------------------------

// Add folds a Trade into its bar and returns the updated Candle. Trades older
// than the open bar are ignored and yield nil.
func (cb *CandleBuilder) Add(trade *models.MEventRecord) *models.MEventRecord {
	price := trade.Float("price")
	size := trade.Float("size")
	start, _ := CalculateWindowBoundaries(trade.Time, cb.periodMillis)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.open[trade.Symbol]
	switch {
	case !ok || start > b.start:
		b = &bar{start: start, ohlcv: core.ComputeOHLCV([]float64{price}, []float64{size})}
		cb.open[trade.Symbol] = b
	case start == b.start:
		b.ohlcv.Merge(price, size)
	default:
		return nil
	}
	return cb.candle(trade.Symbol, b.start, b.ohlcv)
}

// -----------------------------------------------------------------------------

// Build resamples a batch of trades of one symbol into candles, oldest first.
// The newest bar stays open for Add.
func (cb *CandleBuilder) Build(trades []*models.MEventRecord) []*models.MEventRecord {
	if len(trades) == 0 {
		return nil
	}
	sorted := append([]*models.MEventRecord(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	timestamps := make([]int64, len(sorted))
	for i, t := range sorted {
		timestamps[i] = t.Time
	}

	symbol := sorted[0].Symbol
	var candles []*models.MEventRecord
	var last *bar
	for _, w := range ResampleIndices(timestamps, cb.periodMillis) {
		prices := make([]float64, len(w.Indices))
		volumes := make([]float64, len(w.Indices))
		for i, idx := range w.Indices {
			prices[i] = sorted[idx].Float("price")
			volumes[i] = sorted[idx].Float("size")
		}
		last = &bar{start: w.StartTime, ohlcv: core.ComputeOHLCV(prices, volumes)}
		candles = append(candles, cb.candle(symbol, last.start, last.ohlcv))
	}

	// live trades continue the newest bar
	cb.mu.Lock()
	if open, ok := cb.open[symbol]; !ok || last.start >= open.start {
		cb.open[symbol] = last
	}
	cb.mu.Unlock()
	return candles
}

// -----------------------------------------------------------------------------

func (cb *CandleBuilder) candle(symbol string, start int64, o core.OHLCV) *models.MEventRecord {
	return models.NewEventRecord(models.CandleSchema.Name, map[string]any{
		models.FieldEventSymbol: cb.CandleSymbol(symbol),
		models.FieldTime:        start,
		models.FieldIndex:       start,
		"open":                  o.Open,
		"high":                  o.High,
		"low":                   o.Low,
		"close":                 o.Close,
		"volume":                o.Volume,
		"vwap":                  o.VWAP,
	})
}
