package datasource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
)

const sourceQueue = 64

// MSourceStats counts what one source has pushed since it started.
type MSourceStats struct {
	Batches   int64 `json:"batches"`
	Events    int64 `json:"events"`
	LastEvent int64 `json:"last_event"` // event time of the newest record, epoch millis
}

// managedSource is one registered source and, while running, the context
// that stops both the source and its forwarder.
type managedSource struct {
	source  interfaces.IFeedSource
	cancel  context.CancelFunc
	batches atomic.Int64
	events  atomic.Int64
	last    atomic.Int64
}

// -----------------------------------------------------------------------------

// MultiSourceManager runs several IFeedSource instances into one output
// channel. Each source writes to its own queue, forwarded and counted on the
// way, so removing a source cuts its stream even if it ignores Stop.
type MultiSourceManager struct {
	Logger *logger.Logger

	mu      sync.RWMutex
	order   []string
	sources map[string]*managedSource

	// set between Start and Stop
	ctx    context.Context
	cancel context.CancelFunc
	out    chan<- []*models.MEventRecord
	wg     *sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewMultiSourceManager(sources []interfaces.IFeedSource, log *logger.Logger) *MultiSourceManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &MultiSourceManager{
		Logger:  log,
		sources: make(map[string]*managedSource),
	}
	for _, s := range sources {
		if _, dup := m.sources[s.Name()]; dup {
			log.Warning("Duplicate source %s ignored", s.Name())
			continue
		}
		m.order = append(m.order, s.Name())
		m.sources[s.Name()] = &managedSource{source: s}
	}
	return m
}

// -----------------------------------------------------------------------------

// AddSource registers a source and starts it if the manager is running.
func (m *MultiSourceManager) AddSource(source interfaces.IFeedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := source.Name()
	if _, exists := m.sources[name]; exists {
		return fmt.Errorf("source %s already exists", name)
	}

	ms := &managedSource{source: source}
	if m.ctx != nil {
		if err := m.startLocked(ms); err != nil {
			return err
		}
	}
	m.order = append(m.order, name)
	m.sources[name] = ms
	m.Logger.Info("Added source: %s", name)
	return nil
}

// -----------------------------------------------------------------------------

// RemoveSource stops a source and forgets it.
func (m *MultiSourceManager) RemoveSource(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, exists := m.sources[name]
	if !exists {
		return fmt.Errorf("source %s not found", name)
	}
	m.stopLocked(ms)

	delete(m.sources, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.Logger.Info("Removed source: %s (%d events pushed)", name, ms.events.Load())
	return nil
}

// -----------------------------------------------------------------------------

// GetSource retrieves a source by name
func (m *MultiSourceManager) GetSource(name string) (interfaces.IFeedSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, exists := m.sources[name]
	if !exists {
		return nil, fmt.Errorf("source %s not found", name)
	}
	return ms.source, nil
}

// -----------------------------------------------------------------------------

// GetAllSources returns the sources in registration order.
func (m *MultiSourceManager) GetAllSources() []interfaces.IFeedSource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]interfaces.IFeedSource, 0, len(m.order))
	for _, name := range m.order {
		list = append(list, m.sources[name].source)
	}
	return list
}

// -----------------------------------------------------------------------------

// Stats reports the traffic of one source.
func (m *MultiSourceManager) Stats(name string) (MSourceStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.sources[name]
	if !ok {
		return MSourceStats{}, false
	}
	return MSourceStats{
		Batches:   ms.batches.Load(),
		Events:    ms.events.Load(),
		LastEvent: ms.last.Load(),
	}, true
}

// -----------------------------------------------------------------------------

// Schemas returns the union of the sources' event types, first source first.
func (m *MultiSourceManager) Schemas() []models.MEventSchema {
	seen := make(map[string]bool)
	var out []models.MEventSchema
	for _, src := range m.GetAllSources() {
		for _, sc := range src.Schemas() {
			if !seen[sc.Name] {
				seen[sc.Name] = true
				out = append(out, sc)
			}
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// Start starts all sources. Sources and forwarders release wg when they exit.
func (m *MultiSourceManager) Start(parentCtx context.Context, out chan<- []*models.MEventRecord, wg *sync.WaitGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return fmt.Errorf("source manager is already running")
	}
	m.ctx, m.cancel = context.WithCancel(parentCtx)
	m.out = out
	m.wg = wg

	for _, name := range m.order {
		if err := m.startLocked(m.sources[name]); err != nil {
			m.Logger.Error("Failed to start source %s: %v", name, err)
			m.cancel()
			m.ctx, m.cancel, m.out, m.wg = nil, nil, nil, nil
			return err
		}
	}
	return nil
}

func (m *MultiSourceManager) startLocked(ms *managedSource) error {
	ctx, cancel := context.WithCancel(m.ctx)
	queue := make(chan []*models.MEventRecord, sourceQueue)
	if err := ms.source.Start(ctx, queue, m.wg); err != nil {
		cancel()
		return fmt.Errorf("failed to start source %s: %w", ms.source.Name(), err)
	}
	ms.cancel = cancel

	m.wg.Add(1)
	go m.forward(ctx, ms, queue, m.out)
	m.Logger.Info("Started source: %s", ms.source.Name())
	return nil
}

func (m *MultiSourceManager) stopLocked(ms *managedSource) {
	if ms.cancel == nil {
		return
	}
	if err := ms.source.Stop(); err != nil {
		m.Logger.Warning("Error stopping source %s: %v", ms.source.Name(), err)
	}
	ms.cancel()
	ms.cancel = nil
}

// forward relays one source's batches until its context ends.
func (m *MultiSourceManager) forward(ctx context.Context, ms *managedSource, in <-chan []*models.MEventRecord, out chan<- []*models.MEventRecord) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-in:
			if len(batch) == 0 {
				continue
			}
			ms.batches.Add(1)
			ms.events.Add(int64(len(batch)))
			for _, rec := range batch {
				if rec.Time > ms.last.Load() {
					ms.last.Store(rec.Time)
				}
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Stop stops every source. The caller waits on the Start WaitGroup.
func (m *MultiSourceManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}
	m.Logger.Info("Stopping %d sources...", len(m.order))
	for _, name := range m.order {
		m.stopLocked(m.sources[name])
	}
	m.cancel()
	m.ctx, m.cancel, m.out, m.wg = nil, nil, nil, nil
	return nil
}

// -----------------------------------------------------------------------------

// IsRealTime reports whether every source pushes in real time.
func (m *MultiSourceManager) IsRealTime() bool {
	sources := m.GetAllSources()
	if len(sources) == 0 {
		return false
	}
	for _, s := range sources {
		if !s.IsRealTime() {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// Pump forwards every batch from in to exchanger until ctx is done or in is
// closed.
func Pump(ctx context.Context, in <-chan []*models.MEventRecord, exchanger interfaces.IDataExchanger) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			exchanger.Broadcast(batch)
		}
	}
}
