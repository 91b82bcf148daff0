package utils

import (
	"sync"
	"time"

	"market-feed/src/logger"
)

// MarketScheduler tells which of a set of symbols currently trade. Sources
// use it to stay quiet outside market hours.
type MarketScheduler struct {
	Calendars map[string]*TradingCalendar
	Logger    *logger.Logger
	Clock     func() time.Time
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(symbols []string, l *logger.Logger) *MarketScheduler {
	if l == nil {
		l = logger.NewNopLogger()
	}
	ms := &MarketScheduler{
		Calendars: make(map[string]*TradingCalendar),
		Logger:    l,
		Clock:     time.Now,
	}
	ms.UpdateSymbols(symbols)
	return ms
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the tracked symbols.
func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	calendars := make(map[string]*TradingCalendar, len(symbols))
	byMIC := make(map[string]*TradingCalendar)
	for _, symbol := range symbols {
		mic := MICForSymbol(symbol)
		cal, ok := byMIC[mic]
		if !ok {
			cal = GetCalendar(symbol)
			byMIC[mic] = cal
		}
		calendars[symbol] = cal
	}

	ms.mu.Lock()
	ms.Calendars = calendars
	ms.mu.Unlock()

	ms.Logger.Info("MarketScheduler: Mapped %d symbols to %d unique calendars.", len(symbols), len(byMIC))
}

// -----------------------------------------------------------------------------

// IsOpen reports whether symbol's market is open now. Unknown symbols are closed.
func (ms *MarketScheduler) IsOpen(symbol string) bool {
	ms.mu.RLock()
	cal, ok := ms.Calendars[symbol]
	ms.mu.RUnlock()
	return ok && cal.IsOpenOnMinute(ms.Clock().UTC())
}

// -----------------------------------------------------------------------------

// OpenSymbols filters symbols down to those whose market is open now.
func (ms *MarketScheduler) OpenSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if ms.IsOpen(symbol) {
			out = append(out, symbol)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// AnyMarketOpen checks if ANY tracked markets are currently open
func (ms *MarketScheduler) AnyMarketOpen() bool {
	now := ms.Clock().UTC()

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	seen := make(map[*TradingCalendar]struct{})
	for _, cal := range ms.Calendars {
		if _, done := seen[cal]; done {
			continue
		}
		seen[cal] = struct{}{}
		if cal.IsOpenOnMinute(now) {
			return true
		}
	}
	return false
}
