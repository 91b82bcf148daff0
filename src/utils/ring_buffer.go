package utils

import (
	"sort"

	"market-feed/src/models"
)

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer of event records, oldest first.
// -----------------------------------------------------------------------------

type RingBuffer struct {
	data     []*models.MEventRecord
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}

	return &RingBuffer{
		data:     make([]*models.MEventRecord, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append adds a record. A record with the same index as the newest one
// replaces it (a candle still being built is republished under its index).
func (rb *RingBuffer) Append(rec *models.MEventRecord) {
	if rb.size > 0 {
		last := (rb.index - 1 + rb.capacity) % rb.capacity
		if rb.data[last].Index == rec.Index && rec.Index != 0 {
			rb.data[last] = rec
			return
		}
	}

	rb.data[rb.index] = rec
	rb.index = (rb.index + 1) % rb.capacity

	// Update size (never exceeds capacity)
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns the n newest records, oldest first.
func (rb *RingBuffer) GetLatest(n int) []*models.MEventRecord {
	if rb.size == 0 || n <= 0 {
		return nil
	}

	count := n
	if n > rb.size {
		count = rb.size
	}

	result := make([]*models.MEventRecord, count)
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all data in insertion order (oldest to newest)
func (rb *RingBuffer) GetAll() []*models.MEventRecord {
	return rb.GetLatest(rb.size)
}

// -----------------------------------------------------------------------------

// Since returns the records with Time >= fromTime, oldest first. Records are
// appended in time order, so the first match is found by binary search.
func (rb *RingBuffer) Since(fromTime int64) []*models.MEventRecord {
	all := rb.GetAll()
	i := sort.Search(len(all), func(i int) bool { return all[i].Time >= fromTime })
	return all[i:]
}

// -----------------------------------------------------------------------------

// Between returns the records with from <= Time < to, oldest first.
func (rb *RingBuffer) Between(from, to int64) []*models.MEventRecord {
	since := rb.Since(from)
	j := sort.Search(len(since), func(j int) bool { return since[j].Time >= to })
	return since[:j]
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *RingBuffer) Size() int {
	return rb.size
}

// -----------------------------------------------------------------------------

// Capacity returns buffer capacity
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}

// -----------------------------------------------------------------------------

// Resize changes the capacity of the buffer
// If newCapacity < size, oldest data is dropped
func (rb *RingBuffer) Resize(newCapacity int) {
	if newCapacity <= 0 || newCapacity == rb.capacity {
		return
	}

	kept := rb.GetLatest(newCapacity)
	newData := make([]*models.MEventRecord, newCapacity)
	copy(newData, kept)

	rb.data = newData
	rb.capacity = newCapacity
	rb.size = len(kept)
	rb.index = rb.size % newCapacity
}

// -----------------------------------------------------------------------------

// IsFull returns whether buffer is full
func (rb *RingBuffer) IsFull() bool {
	return rb.size == rb.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *RingBuffer) Clear() {
	for i := range rb.data {
		rb.data[i] = nil
	}
	rb.index = 0
	rb.size = 0
}
