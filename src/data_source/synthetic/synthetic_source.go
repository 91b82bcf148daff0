package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"market-feed/src/analysis"
	"market-feed/src/logger"
	"market-feed/src/models"
	"market-feed/src/utils"
)

const (
	// backfillWindow of trades is generated before the first live tick so
	// time-series subscribers and replays have history to read.
	backfillWindow = time.Hour
	backfillStep   = 10 * time.Second
	tickVolatility = 0.001
)

// SyntheticSource produces a random walk of quotes, trades and candles.
type SyntheticSource struct {
	Config          models.MDataSourceConfig
	SourceConfig    models.MSourceConfig
	Logger          *logger.Logger
	MarketScheduler *utils.MarketScheduler
	Candles         *analysis.CandleBuilder
	Clock           func() time.Time

	symbols    atomic.Value // []string
	rng        *rand.Rand
	prices     map[string]float64
	dayVolume  map[string]float64
	walkMu     sync.Mutex
	cancelFunc context.CancelFunc
	isRunning  atomic.Bool
	mu         sync.Mutex
}

// -----------------------------------------------------------------------------

func NewSyntheticSource(cfg models.MDataSourceConfig, sourceCfg models.MSourceConfig, log *logger.Logger) *SyntheticSource {
	if log == nil {
		log = logger.NewNopLogger()
	}
	seed := sourceCfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &SyntheticSource{
		Config:          cfg,
		SourceConfig:    sourceCfg,
		Logger:          log,
		MarketScheduler: utils.NewMarketScheduler(sourceCfg.Symbols, log.Named("scheduler")),
		Candles:         analysis.NewCandleBuilder(cfg.CandlePeriodSeconds),
		Clock:           time.Now,
		rng:             rand.New(rand.NewSource(seed)),
		prices:          make(map[string]float64),
		dayVolume:       make(map[string]float64),
	}
	s.symbols.Store(append([]string(nil), sourceCfg.Symbols...))
	return s
}

// -----------------------------------------------------------------------------

func (s *SyntheticSource) Name() string { return s.SourceConfig.Name }

// IsRealTime returns true: events are produced as the clock ticks.
func (s *SyntheticSource) IsRealTime() bool { return true }

func (s *SyntheticSource) Schemas() []models.MEventSchema {
	return []models.MEventSchema{models.QuoteSchema, models.TradeSchema, models.CandleSchema}
}

func (s *SyntheticSource) UpdateSymbols(symbols []string) error {
	s.symbols.Store(append([]string(nil), symbols...))
	s.MarketScheduler.UpdateSymbols(symbols)
	s.Logger.Info("Updated symbol list. New count: %d", len(symbols))
	return nil
}

func (s *SyntheticSource) getSymbols() []string {
	return s.symbols.Load().([]string)
}

// -----------------------------------------------------------------------------
// Generation
// -----------------------------------------------------------------------------

// step moves symbol's price one random step and returns the trade.
// Callers hold walkMu.
func (s *SyntheticSource) step(symbol string, at time.Time) *models.MEventRecord {
	price, ok := s.prices[symbol]
	if !ok {
		price = 50 + s.rng.Float64()*150
	}
	price = math.Max(0.01, price*(1+s.rng.NormFloat64()*tickVolatility))
	price = math.Round(price*100) / 100
	s.prices[symbol] = price

	size := float64(1 + s.rng.Intn(100))
	s.dayVolume[symbol] += size

	return models.NewEventRecord(models.TradeSchema.Name, map[string]any{
		models.FieldEventSymbol: symbol,
		models.FieldTime:        at.UnixMilli(),
		"price":                 price,
		"size":                  size,
		"dayVolume":             s.dayVolume[symbol],
	})
}

func quoteAround(trade *models.MEventRecord, spread float64) *models.MEventRecord {
	price := trade.Float("price")
	return models.NewEventRecord(models.QuoteSchema.Name, map[string]any{
		models.FieldEventSymbol: trade.Symbol,
		models.FieldTime:        trade.Time,
		"bidPrice":              math.Round((price-spread/2)*100) / 100,
		"bidSize":               trade.Float("size"),
		"askPrice":              math.Round((price+spread/2)*100) / 100,
		"askSize":               trade.Float("size"),
	})
}

// -----------------------------------------------------------------------------

// Tick produces one quote, trade and candle per symbol whose market is open
// (or every symbol when market hours are not enforced).
func (s *SyntheticSource) Tick(now time.Time) []*models.MEventRecord {
	symbols := s.getSymbols()
	if s.Config.MarketHoursOnly {
		symbols = s.MarketScheduler.OpenSymbols(symbols)
	}

	s.walkMu.Lock()
	defer s.walkMu.Unlock()

	events := make([]*models.MEventRecord, 0, 3*len(symbols))
	for _, sym := range symbols {
		trade := s.step(sym, now)
		events = append(events, quoteAround(trade, 0.02), trade)
		if c := s.Candles.Add(trade); c != nil {
			events = append(events, c)
		}
	}
	return events
}

// -----------------------------------------------------------------------------

// Backfill walks every symbol through the window before now and returns the
// resulting candles. The newest candle stays open for live ticks.
func (s *SyntheticSource) Backfill(now time.Time, window, step time.Duration) []*models.MEventRecord {
	s.walkMu.Lock()
	defer s.walkMu.Unlock()

	var candles []*models.MEventRecord
	for _, sym := range s.getSymbols() {
		var trades []*models.MEventRecord
		for at := now.Add(-window); at.Before(now); at = at.Add(step) {
			trades = append(trades, s.step(sym, at))
		}
		candles = append(candles, s.Candles.Build(trades)...)
	}
	return candles
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start begins the tick loop
func (s *SyntheticSource) Start(parentCtx context.Context, outputChan chan<- []*models.MEventRecord, wg *sync.WaitGroup) error {
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
	s.Logger.Info("Started SyntheticSource: %s (%d symbols)", s.Name(), len(s.getSymbols()))
	return nil
}

// -----------------------------------------------------------------------------

// Stop signals the run loop to exit
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning.Load() {
		return fmt.Errorf("source %s is not running", s.Name())
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.isRunning.Store(false)
	s.Logger.Info("Stopped SyntheticSource: %s", s.Name())
	return nil
}

// -----------------------------------------------------------------------------

func (s *SyntheticSource) runLoop(ctx context.Context, out chan<- []*models.MEventRecord, wg *sync.WaitGroup) {
	defer wg.Done()
	defer s.isRunning.Store(false)

	if history := s.Backfill(s.Clock(), backfillWindow, backfillStep); len(history) > 0 {
		if !push(ctx, out, history) {
			return
		}
	}

	interval := time.Duration(s.Config.UpdateIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if events := s.Tick(s.Clock()); len(events) > 0 {
				if !push(ctx, out, events) {
					return
				}
			}
		}
	}
}

// push sends a batch unless ctx ends first.
func push(ctx context.Context, out chan<- []*models.MEventRecord, batch []*models.MEventRecord) bool {
	select {
	case out <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}
