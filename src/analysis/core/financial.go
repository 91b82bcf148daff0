package core

import "math"

// OHLCV is the bar computed from a run of prices and volumes.
type OHLCV struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	VWAP   float64
}

// -----------------------------------------------------------------------------

// ComputeOHLCV calculates OHLCV and the volume-weighted average price.
// Without volume, VWAP falls back to the plain average.
func ComputeOHLCV(prices []float64, volumes []float64) OHLCV {
	if len(prices) == 0 {
		return OHLCV{}
	}

	bar := OHLCV{
		Open:  prices[0],
		Close: prices[len(prices)-1],
		High:  math.Inf(-1),
		Low:   math.Inf(1),
	}
	sumPrice := 0.0
	turnover := 0.0

	for i, p := range prices {
		v := 0.0
		if i < len(volumes) {
			v = volumes[i]
		}
		bar.High = math.Max(bar.High, p)
		bar.Low = math.Min(bar.Low, p)
		bar.Volume += v
		turnover += p * v
		sumPrice += p
	}

	if bar.Volume > 0 {
		bar.VWAP = turnover / bar.Volume
	} else {
		bar.VWAP = sumPrice / float64(len(prices))
	}
	return bar
}

// -----------------------------------------------------------------------------

// Merge folds one more trade into the bar.
func (b *OHLCV) Merge(price, volume float64) {
	turnover := b.VWAP*b.Volume + price*volume
	b.High = math.Max(b.High, price)
	b.Low = math.Min(b.Low, price)
	b.Close = price
	b.Volume += volume
	if b.Volume > 0 {
		b.VWAP = turnover / b.Volume
	}
}
