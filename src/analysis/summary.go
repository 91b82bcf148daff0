package analysis

import (
	"sort"

	"market-feed/src/analysis/core"
	"market-feed/src/models"
)

// MSeriesSummary describes a run of candles of one symbol.
type MSeriesSummary struct {
	Symbol                 string  `json:"symbol"`
	Candles                int     `json:"candles"`
	FirstTime              int64   `json:"first_time"`
	LastTime               int64   `json:"last_time"`
	LastClose              float64 `json:"last_close"`
	ChangePercent          float64 `json:"change_percent"`
	MeanClose              float64 `json:"mean_close"`
	StdClose               float64 `json:"std_close"`
	PriceVolumeCorrelation float64 `json:"price_volume_correlation"`
	VolumeZScore           float64 `json:"volume_z_score"`
}

// -----------------------------------------------------------------------------

// Summarize computes close statistics over candles, which may arrive in any
// order. The change is measured from the first open to the last close and the
// z-score is that of the last candle's volume.
func Summarize(symbol string, candles []*models.MEventRecord) MSeriesSummary {
	summary := MSeriesSummary{Symbol: symbol, Candles: len(candles)}
	if len(candles) == 0 {
		return summary
	}

	sorted := append([]*models.MEventRecord(nil), candles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	var closeVolume core.CoMoments
	for _, c := range sorted {
		closeVolume.Add(c.Float("close"), c.Float("volume"))
	}
	first, last := sorted[0], sorted[len(sorted)-1]

	summary.FirstTime = first.Time
	summary.LastTime = last.Time
	summary.LastClose = last.Float("close")
	summary.ChangePercent = core.ChangePercent(summary.LastClose, first.Float("open"))
	summary.MeanClose, summary.StdClose = closeVolume.X.Mean, closeVolume.X.Std()
	summary.PriceVolumeCorrelation = closeVolume.Correlation()
	summary.VolumeZScore = closeVolume.Y.ZScore(last.Float("volume"))
	return summary
}
