package feed

import (
	"math"
	"sort"

	"market-feed/src/models"
)

// NoFromTime is the bound of a time-series subscription that never called
// SetFromTime: no history is requested.
const NoFromTime int64 = math.MaxInt64

// subKey identifies one aggregate subscription.
type subKey struct {
	eventType string
	symbol    string
}

// -----------------------------------------------------------------------------

// aggregateItem is the merged interest of all subscriptions in one key.
// listeners doubles as the reference count.
type aggregateItem struct {
	listeners []*Subscription
	last      *models.MEventRecord           // regular
	events    map[int64]*models.MEventRecord // time-series, by index
	fromTime  int64                          // time-series, min over listeners
}

func (it *aggregateItem) minFromTime() int64 {
	bound := NoFromTime
	for _, s := range it.listeners {
		if s.fromTime < bound {
			bound = s.fromTime
		}
	}
	return bound
}

// prune drops cached events older than the current bound.
func (it *aggregateItem) prune() {
	for idx, ev := range it.events {
		if ev.Time < it.fromTime {
			delete(it.events, idx)
		}
	}
}

// cached returns the cached records in index order.
func (it *aggregateItem) cached() []*models.MEventRecord {
	if it.events == nil {
		if it.last == nil {
			return nil
		}
		return []*models.MEventRecord{it.last}
	}
	out := make([]*models.MEventRecord, 0, len(it.events))
	for _, ev := range it.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// -----------------------------------------------------------------------------

// subTable is the aggregate table of one kind (regular or time-series) plus
// its pending diff. A key is never in add and remove at the same time.
type subTable struct {
	timeSeries bool
	total      map[subKey]*aggregateItem
	add        map[subKey]int64 // fromTime for time-series, ignored otherwise
	remove     map[subKey]struct{}
}

func newSubTable(timeSeries bool) *subTable {
	return &subTable{
		timeSeries: timeSeries,
		total:      make(map[subKey]*aggregateItem),
		add:        make(map[subKey]int64),
		remove:     make(map[subKey]struct{}),
	}
}

func (t *subTable) markAdd(key subKey, fromTime int64) {
	t.add[key] = fromTime
	delete(t.remove, key)
}

func (t *subTable) markRemove(key subKey) {
	delete(t.add, key)
	t.remove[key] = struct{}{}
}

// attach adds s to the item at key, creating it on first interest.
// It reports whether the wire subscription has to change.
func (t *subTable) attach(s *Subscription, key subKey) (*aggregateItem, bool) {
	item, ok := t.total[key]
	changed := false
	if !ok {
		item = &aggregateItem{fromTime: NoFromTime}
		if t.timeSeries {
			item.events = make(map[int64]*models.MEventRecord)
		}
		t.total[key] = item
		changed = true
	}
	item.listeners = append(item.listeners, s)
	if t.timeSeries && s.fromTime < item.fromTime {
		item.fromTime = s.fromTime
		changed = true
	}
	if changed {
		t.markAdd(key, item.fromTime)
	}
	return item, changed
}

// detach removes s from the item at key. The item goes away with its last
// listener; otherwise a time-series bound may rise and the cache is pruned.
func (t *subTable) detach(s *Subscription, key subKey) bool {
	item, ok := t.total[key]
	if !ok {
		return false
	}
	pos := -1
	for i, l := range item.listeners {
		if l == s {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	item.listeners = append(item.listeners[:pos], item.listeners[pos+1:]...)

	if len(item.listeners) == 0 {
		delete(t.total, key)
		t.markRemove(key)
		return true
	}
	if t.timeSeries {
		if bound := item.minFromTime(); bound != item.fromTime {
			item.fromTime = bound
			t.markAdd(key, bound)
			item.prune()
			return true
		}
	}
	return false
}

// apply stores rec in the cache of its item and returns the item, or nil
// when nobody is subscribed to it.
func (t *subTable) apply(rec *models.MEventRecord) *aggregateItem {
	item, ok := t.total[subKey{rec.Type, rec.Symbol}]
	if !ok {
		return nil
	}
	if t.timeSeries {
		item.events[rec.Index] = rec
	} else {
		item.last = rec
	}
	return item
}

func (t *subTable) clearPending() {
	t.add = make(map[subKey]int64)
	t.remove = make(map[subKey]struct{})
}

// -----------------------------------------------------------------------------
// Wire shapes
// -----------------------------------------------------------------------------

// symbolLists groups keys by type, symbols sorted.
func symbolLists[V any](keys map[subKey]V) map[string][]string {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for k := range keys {
		out[k.eventType] = append(out[k.eventType], k.symbol)
	}
	for _, list := range out {
		sort.Strings(list)
	}
	return out
}

func timeSeriesLists(keys map[subKey]int64) map[string][]models.MTimeSeriesSymbol {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string][]models.MTimeSeriesSymbol)
	for k, from := range keys {
		out[k.eventType] = append(out[k.eventType], models.MTimeSeriesSymbol{EventSymbol: k.symbol, FromTime: from})
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].EventSymbol < list[j].EventSymbol })
	}
	return out
}

// totalBounds snapshots the whole table in the shape of a pending add.
func (t *subTable) totalBounds() map[subKey]int64 {
	out := make(map[subKey]int64, len(t.total))
	for k, item := range t.total {
		out[k] = item.fromTime
	}
	return out
}
