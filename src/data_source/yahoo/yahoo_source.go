package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"market-feed/src/analysis"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
	"market-feed/src/utils"
)

const (
	DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"
	chartInterval  = "5m"
	initialRange   = "5d"
	updateRange    = "1d"
)

// YahooFinanceSource polls the Yahoo chart API and republishes each bar's
// close as a Trade, with Candles built from those trades.
type YahooFinanceSource struct {
	Config           models.MDataSourceConfig
	SourceConfig     models.MSourceConfig
	BaseURL          string
	symbols          atomic.Value // []string
	Network          interfaces.INetworkManager
	Logger           *logger.Logger
	MarketScheduler  *utils.MarketScheduler
	Candles          *analysis.CandleBuilder
	LastTimestamps   map[string]int64 // unix millis of the newest trade sent
	lastTimestampsMu sync.RWMutex
	cancelFunc       context.CancelFunc
	isRunning        atomic.Bool
	mu               sync.Mutex
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) Name() string {
	return s.SourceConfig.Name
}

// -----------------------------------------------------------------------------

// IsRealTime returns false because Yahoo Finance is polled
func (s *YahooFinanceSource) IsRealTime() bool {
	return false
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) Schemas() []models.MEventSchema {
	return []models.MEventSchema{models.TradeSchema, models.CandleSchema}
}

// -----------------------------------------------------------------------------

func NewYahooFinanceSource(cfg models.MDataSourceConfig, sourceCfg models.MSourceConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *YahooFinanceSource {
	if log == nil {
		log = logger.NewNopLogger()
	}
	s := &YahooFinanceSource{
		Config:          cfg,
		SourceConfig:    sourceCfg,
		BaseURL:         DefaultBaseURL,
		Network:         netMgr,
		Logger:          log,
		LastTimestamps:  make(map[string]int64),
		MarketScheduler: utils.NewMarketScheduler(sourceCfg.Symbols, log.Named("scheduler")),
		Candles:         analysis.NewCandleBuilder(cfg.CandlePeriodSeconds),
	}
	s.symbols.Store(append([]string(nil), sourceCfg.Symbols...))
	return s
}

// -----------------------------------------------------------------------------

// FetchInitialData fetches several days of history. The result holds every
// trade followed by the candles built from them.
func (s *YahooFinanceSource) FetchInitialData(ctx context.Context) ([]*models.MEventRecord, error) {
	data, err := s.fetchBatch(ctx, s.getSymbols(), initialRange)
	if err != nil {
		return nil, err
	}

	var trades, candles []*models.MEventRecord
	for _, symbol := range sortedSymbols(data) {
		series := data[symbol]
		trades = append(trades, series...)
		candles = append(candles, s.Candles.Build(series)...)
		s.markSent(symbol, series[len(series)-1].Time)
	}
	return append(trades, candles...), nil
}

// -----------------------------------------------------------------------------

// FetchUpdateData fetches today's bars and keeps only trades newer than the
// last ones sent. Each new trade is followed by its updated candle.
func (s *YahooFinanceSource) FetchUpdateData(ctx context.Context) ([]*models.MEventRecord, error) {
	data, err := s.fetchBatch(ctx, s.getSymbols(), updateRange)
	if err != nil {
		return nil, err
	}

	var events []*models.MEventRecord
	for _, symbol := range sortedSymbols(data) {
		s.lastTimestampsMu.RLock()
		lastTs := s.LastTimestamps[symbol]
		s.lastTimestampsMu.RUnlock()

		for _, trade := range data[symbol] {
			if lastTs != 0 && trade.Time <= lastTs {
				continue
			}
			events = append(events, trade)
			if c := s.Candles.Add(trade); c != nil {
				events = append(events, c)
			}
			lastTs = trade.Time
		}
		s.markSent(symbol, lastTs)
	}
	return events, nil
}

func (s *YahooFinanceSource) markSent(symbol string, ts int64) {
	s.lastTimestampsMu.Lock()
	if ts > s.LastTimestamps[symbol] {
		s.LastTimestamps[symbol] = ts
	}
	s.lastTimestampsMu.Unlock()
}

// -----------------------------------------------------------------------------

// fetchBatch processes symbols concurrently. The network manager bounds the
// number of requests in flight.
func (s *YahooFinanceSource) fetchBatch(ctx context.Context, symbols []string, rangeStr string) (map[string][]*models.MEventRecord, error) {
	results := make(map[string][]*models.MEventRecord)
	if len(symbols) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []error

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			data, err := s.fetchSymbolData(ctx, sym, rangeStr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.Logger.Warning("Error fetching symbol %s: %v", sym, err)
				errs = append(errs, err)
				return
			}
			results[sym] = data
		}(symbol)
	}
	wg.Wait()

	s.Logger.Info("YahooFinance: Fetched %d/%d symbols successfully", len(results), len(symbols))

	if len(results) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("all fetches failed: %w", errs[0])
	}
	return results, nil
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) fetchSymbolData(ctx context.Context, symbol, rangeStr string) ([]*models.MEventRecord, error) {
	params := map[string]string{
		"interval":       chartInterval,
		"range":          rangeStr,
		"includePrePost": "false",
	}

	respBytes, err := s.Network.Get(ctx, s.BaseURL+url.PathEscape(symbol), params)
	if err != nil {
		return nil, fmt.Errorf("network error for %s: %w", symbol, err)
	}
	return s.parseChartResponse(symbol, respBytes)
}

// -----------------------------------------------------------------------------

// YahooChartResponse is the part of the chart API response that is read.
type YahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				ExchangeName       string  `json:"exchangeName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// -----------------------------------------------------------------------------

// parseChartResponse turns each valid bar into a Trade at the bar's close.
// dayVolume accumulates per calendar day of the trade.
func (s *YahooFinanceSource) parseChartResponse(symbol string, data []byte) ([]*models.MEventRecord, error) {
	var resp YahooChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w", err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s - %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("no result in response for %s", symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 {
		return nil, fmt.Errorf("no timestamps in response for %s", symbol)
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no quote data in response for %s", symbol)
	}
	quote := result.Indicators.Quote[0]
	if len(result.Timestamp) != len(quote.Close) || len(result.Timestamp) != len(quote.Volume) {
		return nil, fmt.Errorf("data alignment error for %s", symbol)
	}

	type point struct {
		ts     int64
		close  float64
		volume float64
	}
	points := make([]point, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if quote.Close[i] == nil || quote.Volume[i] == nil {
			s.Logger.Debug("Invalid bar for %s at index %d", symbol, i)
			continue
		}
		if *quote.Close[i] <= 0 || *quote.Volume[i] < 0 {
			s.Logger.Debug("Skipping invalid point for %s: close=%f, volume=%f", symbol, *quote.Close[i], *quote.Volume[i])
			continue
		}
		points = append(points, point{ts: ts * 1000, close: *quote.Close[i], volume: *quote.Volume[i]})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no valid data points for %s", symbol)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ts < points[j].ts })

	trades := make([]*models.MEventRecord, 0, len(points))
	var day string
	var dayVolume float64
	for _, p := range points {
		if d := time.UnixMilli(p.ts).UTC().Format("2006-01-02"); d != day {
			day, dayVolume = d, 0
		}
		dayVolume += p.volume
		trades = append(trades, models.NewEventRecord(models.TradeSchema.Name, map[string]any{
			models.FieldEventSymbol: symbol,
			models.FieldTime:        p.ts,
			"price":                 p.close,
			"size":                  p.volume,
			"dayVolume":             dayVolume,
		}))
	}

	s.Logger.Debug("Fetched %s: %d valid points [%d -> %d]", symbol, len(points), points[0].ts, points[len(points)-1].ts)
	return trades, nil
}

// -----------------------------------------------------------------------------

// Start begins the data fetching loop
func (s *YahooFinanceSource) Start(parentCtx context.Context, outputChan chan<- []*models.MEventRecord, wg *sync.WaitGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning.Load() {
		return fmt.Errorf("source %s is already running", s.Name())
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel
	s.isRunning.Store(true)

	wg.Add(1)
	go s.runLoop(ctx, outputChan, wg)
	s.Logger.Info("Started YahooFinanceSource: %s", s.Name())
	return nil
}

// -----------------------------------------------------------------------------

// Stop signals the run loop to exit
func (s *YahooFinanceSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning.Load() {
		return fmt.Errorf("source %s is not running", s.Name())
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.isRunning.Store(false)
	s.Logger.Info("Stopped YahooFinanceSource: %s", s.Name())
	return nil
}

// -----------------------------------------------------------------------------

// runLoop sends the initial history, then polls for new bars
func (s *YahooFinanceSource) runLoop(ctx context.Context, out chan<- []*models.MEventRecord, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.isRunning.Store(false)

	send := func(events []*models.MEventRecord) bool {
		if len(events) == 0 {
			return true
		}
		select {
		case out <- events:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if history, err := s.FetchInitialData(ctx); err != nil {
		s.Logger.Warning("Initial fetch failed: %v", err)
	} else if !send(history) {
		return
	}

	interval := time.Duration(s.Config.UpdateIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Config.MarketHoursOnly && !s.MarketScheduler.AnyMarketOpen() {
				s.Logger.Debug("All markets are closed. Skipping poll")
				continue
			}
			events, err := s.FetchUpdateData(ctx)
			if err != nil {
				s.Logger.Warning("Error fetching updates: %v", err)
				continue
			}
			if !send(events) {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) UpdateSymbols(symbols []string) error {
	s.symbols.Store(append([]string(nil), symbols...))
	s.Logger.Info("Updated symbol list. New count: %d", len(symbols))
	s.MarketScheduler.UpdateSymbols(symbols)
	return nil
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) getSymbols() []string {
	return s.symbols.Load().([]string)
}

func sortedSymbols(data map[string][]*models.MEventRecord) []string {
	out := make([]string, 0, len(data))
	for symbol := range data {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
