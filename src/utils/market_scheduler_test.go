package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMICForSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		mic    string
	}{
		{"AAPL", "xnys"},
		{"BRK.B", "xnys"},
		{"VOD.L", "xlon"},
		{"SAP.DE", "xfra"},
		{"7203.T", "xtks"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.mic, MICForSymbol(tt.symbol), tt.symbol)
	}
}

func TestMarketSchedulerUsesClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	ms := NewMarketScheduler([]string{"AAPL", "IBM"}, nil)

	// Wednesday midday
	ms.Clock = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, ny) }
	assert.True(t, ms.IsOpen("AAPL"))
	assert.True(t, ms.AnyMarketOpen())
	assert.Equal(t, []string{"AAPL", "IBM"}, ms.OpenSymbols([]string{"AAPL", "IBM", "MSFT"}))

	// Saturday
	ms.Clock = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, ny) }
	assert.False(t, ms.IsOpen("AAPL"))
	assert.False(t, ms.AnyMarketOpen())
	assert.Empty(t, ms.OpenSymbols([]string{"AAPL"}))
}

func TestFallbackCalendarHours(t *testing.T) {
	tc := &TradingCalendar{MIC: "xnys", Fallback: true, Timezone: time.UTC}

	assert.True(t, tc.IsOpenOnMinute(time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC)))
	assert.False(t, tc.IsOpenOnMinute(time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC)))
	assert.False(t, tc.IsOpenOnMinute(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)))
}
