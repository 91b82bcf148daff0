package feed

import (
	"sync/atomic"

	"market-feed/src/helpers"
	"market-feed/src/models"

	"github.com/google/uuid"
)

// EventHandler receives everything delivered to a subscription during one
// loop tick, in arrival order.
type EventHandler func(events []*models.MEventRecord)

type handleState int

const (
	handleActive handleState = iota
	handleClosed
)

// queueKey dedups the per-tick accumulator: latest record per symbol for
// regular subscriptions, per symbol and index for time-series ones.
type queueKey struct {
	eventType string
	symbol    string
	index     int64
}

// -----------------------------------------------------------------------------

// Subscription is one consumer's interest in a set of symbols for a fixed set
// of event types. Methods may be called from any goroutine; the work runs on
// the feed's loop in call order.
type Subscription struct {
	id         string
	feed       *Feed
	types      []string
	timeSeries bool
	closed     atomic.Bool

	// owned by the loop
	state           handleState
	symbols         map[string]struct{}
	fromTime        int64
	onEvent         EventHandler
	queue           []*models.MEventRecord
	queuePos        map[queueKey]int
	notifyScheduled bool
}

func newSubscription(f *Feed, types []string, timeSeries bool) *Subscription {
	return &Subscription{
		id:         uuid.NewString(),
		feed:       f,
		types:      dedup(types),
		timeSeries: timeSeries,
		symbols:    make(map[string]struct{}),
		fromTime:   NoFromTime,
		queuePos:   make(map[queueKey]int),
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Types returns the event types of the subscription.
func (s *Subscription) Types() []string { return append([]string(nil), s.types...) }

// IsTimeSeries reports whether the subscription was created by CreateTimeSeriesSubscription.
func (s *Subscription) IsTimeSeries() bool { return s.timeSeries }

// -----------------------------------------------------------------------------

// OnEvent installs the consumer callback. Records that arrived while no
// callback was set are delivered on the next tick.
func (s *Subscription) OnEvent(fn EventHandler) {
	s.feed.loop.Post(func() {
		s.onEvent = fn
		if fn != nil && len(s.queue) > 0 {
			s.scheduleNotify()
		}
	})
}

// AddSymbols adds symbols to the subscription.
func (s *Subscription) AddSymbols(symbols ...string) {
	s.post(func() { s.addSymbols(symbols) })
}

// RemoveSymbols removes symbols from the subscription.
func (s *Subscription) RemoveSymbols(symbols ...string) {
	s.post(func() { s.removeSymbols(symbols) })
}

// SetSymbols replaces the symbol set.
func (s *Subscription) SetSymbols(symbols ...string) {
	s.post(func() { s.setSymbols(symbols) })
}

// SetFromTime moves the history bound of a time-series subscription. The value
// may be epoch millis, a date string or a time.Time; anything else is logged
// and ignored.
func (s *Subscription) SetFromTime(v interface{}) {
	if !s.timeSeries {
		s.feed.log.Warning("setFromTime ignored on regular subscription %s", s.id)
		return
	}
	t, err := helpers.ParseTime(v)
	if err != nil {
		s.feed.log.Warning("setFromTime is ignored because of invalid time %v: %v", v, err)
		return
	}
	s.post(func() { s.setFromTime(t) })
}

// Close removes all symbols and turns every later call into a no-op.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.feed.loop.Post(s.close)
}

func (s *Subscription) post(fn func()) {
	if s.closed.Load() {
		return
	}
	s.feed.loop.Post(func() {
		if s.state == handleClosed {
			return
		}
		fn()
	})
}

// -----------------------------------------------------------------------------
// Loop side
// -----------------------------------------------------------------------------

func (s *Subscription) table() *subTable {
	if s.timeSeries {
		return s.feed.timeSeries
	}
	return s.feed.regular
}

func (s *Subscription) addSymbols(symbols []string) {
	t := s.table()
	changed := false
	for _, symbol := range symbols {
		if _, held := s.symbols[symbol]; held {
			continue
		}
		s.symbols[symbol] = struct{}{}
		for _, eventType := range s.types {
			item, updated := t.attach(s, subKey{eventType, symbol})
			changed = changed || updated
			for _, ev := range item.cached() {
				s.process(ev)
			}
		}
	}
	if changed {
		s.feed.scheduleFlush()
	}
}

func (s *Subscription) removeSymbols(symbols []string) {
	t := s.table()
	changed := false
	for _, symbol := range symbols {
		if _, held := s.symbols[symbol]; !held {
			continue
		}
		delete(s.symbols, symbol)
		for _, eventType := range s.types {
			s.dropQueued(eventType, symbol)
			if t.detach(s, subKey{eventType, symbol}) {
				changed = true
			}
		}
	}
	if changed {
		s.feed.scheduleFlush()
	}
}

func (s *Subscription) setSymbols(symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	var added []string
	for _, symbol := range symbols {
		if _, dup := next[symbol]; dup {
			continue
		}
		next[symbol] = struct{}{}
		if _, held := s.symbols[symbol]; !held {
			added = append(added, symbol)
		}
	}
	var removed []string
	for symbol := range s.symbols {
		if _, keep := next[symbol]; !keep {
			removed = append(removed, symbol)
		}
	}
	s.removeSymbols(removed)
	s.addSymbols(added)
}

func (s *Subscription) setFromTime(t int64) {
	held := s.symbolList()
	s.removeSymbols(held)
	s.fromTime = t
	s.addSymbols(held)
}

func (s *Subscription) close() {
	s.removeSymbols(s.symbolList())
	s.state = handleClosed
	s.onEvent = nil
}

func (s *Subscription) symbolList() []string {
	out := make([]string, 0, len(s.symbols))
	for symbol := range s.symbols {
		out = append(out, symbol)
	}
	return out
}

// -----------------------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------------------

// process queues rec when it passes this subscription's own bound.
func (s *Subscription) process(rec *models.MEventRecord) {
	if s.timeSeries && rec.Time < s.fromTime {
		return
	}
	key := queueKey{eventType: rec.Type, symbol: rec.Symbol}
	if s.timeSeries {
		key.index = rec.Index
	}
	if pos, ok := s.queuePos[key]; ok {
		s.queue[pos] = rec
	} else {
		s.queuePos[key] = len(s.queue)
		s.queue = append(s.queue, rec)
	}
	s.scheduleNotify()
}

func (s *Subscription) dropQueued(eventType, symbol string) {
	if len(s.queue) == 0 {
		return
	}
	kept := s.queue[:0]
	for _, rec := range s.queue {
		if rec.Type == eventType && rec.Symbol == symbol {
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	s.reindex()
}

func (s *Subscription) reindex() {
	s.queuePos = make(map[queueKey]int, len(s.queue))
	for i, rec := range s.queue {
		key := queueKey{eventType: rec.Type, symbol: rec.Symbol}
		if s.timeSeries {
			key.index = rec.Index
		}
		s.queuePos[key] = i
	}
}

func (s *Subscription) scheduleNotify() {
	if s.notifyScheduled {
		return
	}
	s.notifyScheduled = true
	s.feed.loop.Defer(s.notify)
}

// notify hands the accumulated batch to the callback. The accumulator is
// reset first so records arriving during the callback start a new batch.
func (s *Subscription) notify() {
	s.notifyScheduled = false
	fn := s.onEvent
	if fn == nil || len(s.queue) == 0 {
		return
	}
	batch := s.queue
	s.queue = nil
	s.queuePos = make(map[queueKey]int)
	_ = helpers.SafeCall(s.feed.log, "subscription "+s.id+" callback", func() { fn(batch) })
}

func dedup(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
