package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"market-feed/src/models"
	"market-feed/src/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-03-06 14:30 UTC, 5 minute bars
const firstBar int64 = 1709735400

func chartJSON(bars int, nullAt int) string {
	ts := make([]string, bars)
	closes := make([]string, bars)
	volumes := make([]string, bars)
	for i := 0; i < bars; i++ {
		ts[i] = fmt.Sprint(firstBar + int64(i)*300)
		closes[i] = fmt.Sprintf("%.1f", 100+float64(i))
		volumes[i] = fmt.Sprint(10 * (i + 1))
		if i == nullAt {
			closes[i] = "null"
		}
	}
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{"symbol":"AAPL"},"timestamp":[%s],
		"indicators":{"quote":[{"close":[%s],"volume":[%s]}]}}],"error":null}}`,
		strings.Join(ts, ","), strings.Join(closes, ","), strings.Join(volumes, ","))
}

func newChartServer(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/AAPL") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		switch r.URL.Query().Get("range") {
		case "5d":
			fmt.Fprint(w, chartJSON(4, 3)) // last bar not yet closed
		default:
			fmt.Fprint(w, chartJSON(5, -1))
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestSource(t *testing.T, symbols ...string) *YahooFinanceSource {
	ts := newChartServer(t)
	nm := network.NewHTTPNetworkManager(models.MNetworkConfig{RequestTimeout: 5, ConcurrentRequests: 2}, nil)
	nm.BaseDelay = time.Millisecond

	s := NewYahooFinanceSource(models.MDataSourceConfig{
		UpdateIntervalMillis: 10,
		CandlePeriodSeconds:  300,
	}, models.MSourceConfig{Name: "yahoo", Type: "yahoo", Symbols: symbols}, nm, nil)
	s.BaseURL = ts.URL + "/chart/"
	return s
}

func TestFetchInitialDataBuildsTradesAndCandles(t *testing.T) {
	s := newTestSource(t, "AAPL", "MSFT")

	events, err := s.FetchInitialData(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 6) // 3 trades then 3 candles, MSFT failed

	trades, candles := events[:3], events[3:]
	for i, tr := range trades {
		assert.Equal(t, models.TradeSchema.Name, tr.Type)
		assert.Equal(t, "AAPL", tr.Symbol)
		assert.Equal(t, (firstBar+int64(i)*300)*1000, tr.Time)
		assert.Equal(t, 100+float64(i), tr.Float("price"))
	}
	assert.Equal(t, 60.0, trades[2].Float("dayVolume"))

	for i, c := range candles {
		assert.Equal(t, models.CandleSchema.Name, c.Type)
		assert.Equal(t, "AAPL{=5m}", c.Symbol)
		assert.Equal(t, trades[i].Time, c.Index)
		assert.Equal(t, trades[i].Float("price"), c.Float("close"))
	}
	assert.Equal(t, trades[2].Time, s.LastTimestamps["AAPL"])
}

func TestFetchUpdateDataSendsOnlyNewBars(t *testing.T) {
	s := newTestSource(t, "AAPL")
	_, err := s.FetchInitialData(context.Background())
	require.NoError(t, err)

	events, err := s.FetchUpdateData(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 4) // two new trades, each followed by its candle

	assert.Equal(t, models.TradeSchema.Name, events[0].Type)
	assert.Equal(t, (firstBar+900)*1000, events[0].Time)
	assert.Equal(t, models.CandleSchema.Name, events[1].Type)
	assert.Equal(t, events[0].Time, events[1].Index)
	assert.Equal(t, (firstBar+1200)*1000, events[2].Time)

	again, err := s.FetchUpdateData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestAllFetchesFailing(t *testing.T) {
	s := newTestSource(t, "MSFT")
	_, err := s.FetchInitialData(context.Background())
	assert.Error(t, err)
}

func TestParseChartResponseErrors(t *testing.T) {
	s := NewYahooFinanceSource(models.MDataSourceConfig{}, models.MSourceConfig{}, nil, nil)

	_, err := s.parseChartResponse("X", []byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	assert.ErrorContains(t, err, "Not Found")

	_, err = s.parseChartResponse("X", []byte(`{"chart":{"result":[{"timestamp":[1,2],"indicators":{"quote":[{"close":[1],"volume":[1,2]}]}}]}}`))
	assert.ErrorContains(t, err, "alignment")

	_, err = s.parseChartResponse("X", []byte(`not json`))
	assert.Error(t, err)
}

func TestYahooStartStop(t *testing.T) {
	s := newTestSource(t, "AAPL")
	out := make(chan []*models.MEventRecord, 4)
	var wg sync.WaitGroup

	require.NoError(t, s.Start(context.Background(), out, &wg))
	history := <-out
	assert.Len(t, history, 6)

	update := <-out
	assert.Len(t, update, 4)

	require.NoError(t, s.Stop())
	wg.Wait()
}
