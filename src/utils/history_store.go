package utils

import (
	"runtime"
	"runtime/debug"
	"sort"
	"sync"

	"market-feed/src/logger"
	"market-feed/src/models"
)

// -----------------------------------------------------------------------------
// HistoryStore keeps the recent events of every (type, symbol) stream in
// ring buffers. The push server answers time-series subscriptions and replay
// requests from it.
// -----------------------------------------------------------------------------

type streamKey struct {
	eventType string
	symbol    string
}

type HistoryStore struct {
	streams     map[streamKey]*RingBuffer
	capacity    int
	maxMemoryMB int
	appended    int
	Logger      *logger.Logger
	mu          sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewHistoryStore(capacity, maxMemoryMB int, l *logger.Logger) *HistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	if maxMemoryMB <= 0 {
		maxMemoryMB = DefaultMaxMemoryMB
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &HistoryStore{
		streams:     make(map[streamKey]*RingBuffer),
		capacity:    capacity,
		maxMemoryMB: maxMemoryMB,
		Logger:      l,
	}
}

// -----------------------------------------------------------------------------

// Add appends records to their streams.
func (hs *HistoryStore) Add(records ...*models.MEventRecord) {
	hs.mu.Lock()
	for _, rec := range records {
		key := streamKey{rec.Type, rec.Symbol}
		buf, ok := hs.streams[key]
		if !ok {
			buf = NewRingBuffer(hs.capacity)
			hs.streams[key] = buf
		}
		buf.Append(rec)
	}
	before := hs.appended
	hs.appended += len(records)
	check := hs.appended/1000 != before/1000
	hs.mu.Unlock()

	// Periodic memory check
	if check {
		hs.CheckMemoryLimits()
	}
}

// -----------------------------------------------------------------------------

// Latest returns the newest record of a stream, or nil.
func (hs *HistoryStore) Latest(eventType, symbol string) *models.MEventRecord {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	buf, ok := hs.streams[streamKey{eventType, symbol}]
	if !ok {
		return nil
	}
	if latest := buf.GetLatest(1); len(latest) > 0 {
		return latest[0]
	}
	return nil
}

// -----------------------------------------------------------------------------

// Since returns a stream's records with Time >= fromTime, oldest first.
func (hs *HistoryStore) Since(eventType, symbol string, fromTime int64) []*models.MEventRecord {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	buf, ok := hs.streams[streamKey{eventType, symbol}]
	if !ok {
		return nil
	}
	return buf.Since(fromTime)
}

// -----------------------------------------------------------------------------

// Between returns the records of every stream of the given symbols with
// from <= Time < to, merged in time order. Used to play history back.
func (hs *HistoryStore) Between(keys map[string][]string, from, to int64) []*models.MEventRecord {
	hs.mu.RLock()
	var out []*models.MEventRecord
	for eventType, symbols := range keys {
		for _, symbol := range symbols {
			if buf, ok := hs.streams[streamKey{eventType, symbol}]; ok {
				out = append(out, buf.Between(from, to)...)
			}
		}
	}
	hs.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// -----------------------------------------------------------------------------

// EarliestTime returns the oldest time held in any stream, or false when empty.
func (hs *HistoryStore) EarliestTime() (int64, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	var earliest int64
	found := false
	for _, buf := range hs.streams {
		if all := buf.GetLatest(buf.Size()); len(all) > 0 {
			if !found || all[0].Time < earliest {
				earliest = all[0].Time
				found = true
			}
		}
	}
	return earliest, found
}

// -----------------------------------------------------------------------------

// CheckMemoryLimits halves every buffer when the heap outgrows the limit.
func (hs *HistoryStore) CheckMemoryLimits() {
	currentMemory := hs.GetProcessMemoryMB()
	if currentMemory <= float64(hs.maxMemoryMB) {
		return
	}

	hs.Logger.Info("Memory usage %.1fMB exceeds limit %dMB. Cleaning up.", currentMemory, hs.maxMemoryMB)
	hs.mu.Lock()
	for _, buf := range hs.streams {
		if buf.Capacity() > 100 {
			newCapacity := buf.Capacity() / 2
			if newCapacity < 50 {
				newCapacity = 50
			}
			buf.Resize(newCapacity)
		}
	}
	if hs.capacity > 100 {
		hs.capacity /= 2
	}
	hs.mu.Unlock()

	runtime.GC()
	debug.FreeOSMemory()
}

// -----------------------------------------------------------------------------

// GetProcessMemoryMB gets current heap usage in MB
func (hs *HistoryStore) GetProcessMemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}

// -----------------------------------------------------------------------------

// Cleanup clears all data
func (hs *HistoryStore) Cleanup() {
	hs.mu.Lock()
	hs.streams = make(map[streamKey]*RingBuffer)
	hs.mu.Unlock()
}

// -----------------------------------------------------------------------------

// StreamCount returns number of streams with data
func (hs *HistoryStore) StreamCount() int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	return len(hs.streams)
}
