package observer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-feed/src/analysis"
	"market-feed/src/feed"
	"market-feed/src/helpers"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
	"market-feed/src/symbols"
	"market-feed/src/utils"
)

const (
	recordQueue     = 256
	saveTimeout     = 5 * time.Second
	defaultLookback = time.Hour
)

// Observer subscribes a feed to the configured types and symbols, keeps what
// it receives in a local history and hands it to an optional event store.
// It implements interfaces.IFeedControl for the gRPC control service.
type Observer struct {
	Feed    *feed.Feed
	Config  models.MObserveConfig
	Store   interfaces.IEventStore // nil disables recording
	History *utils.HistoryStore
	Logger  *logger.Logger
	Clock   func() time.Time

	// CandlePeriod is the attribute time-series symbols carry, e.g. "1m".
	CandlePeriod string

	mu         sync.Mutex
	symbols    []string
	regular    *feed.Subscription
	timeSeries *feed.Subscription
	records    chan []*models.MEventRecord
	recorderWg sync.WaitGroup
	stopped    atomic.Bool
	received   atomic.Int64
	dropped    atomic.Int64
}

// -----------------------------------------------------------------------------

func New(f *feed.Feed, cfg models.MObserveConfig, store interfaces.IEventStore, history *utils.HistoryStore, log *logger.Logger) *Observer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if history == nil {
		history = utils.NewHistoryStore(0, 0, log.Named("history"))
	}
	return &Observer{
		Feed:         f,
		Config:       cfg,
		Store:        store,
		History:      history,
		Logger:       log,
		Clock:        time.Now,
		CandlePeriod: "1m",
	}
}

// -----------------------------------------------------------------------------

// Start creates the subscriptions and the recorder.
func (o *Observer) Start(ctx context.Context) error {
	resolved, err := o.resolve(ctx, o.Config.Symbols)
	if err != nil {
		return err
	}
	fromTime, err := o.fromTime()
	if err != nil {
		return err
	}

	if o.Store != nil {
		o.records = make(chan []*models.MEventRecord, recordQueue)
		o.recorderWg.Add(1)
		go o.record()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.symbols = resolved

	if len(o.Config.Types) > 0 {
		o.regular = o.Feed.CreateSubscription(o.Config.Types...)
		o.regular.OnEvent(o.onEvents)
		o.regular.SetSymbols(resolved...)
	}
	if len(o.Config.TimeSeriesTypes) > 0 {
		o.timeSeries = o.Feed.CreateTimeSeriesSubscription(o.Config.TimeSeriesTypes...)
		o.timeSeries.OnEvent(o.onEvents)
		o.timeSeries.SetFromTime(fromTime)
		o.timeSeries.SetSymbols(o.timeSeriesSymbols(resolved)...)
	}

	o.Logger.Info("Observing %d symbols (types %v, time series %v from %d)",
		len(resolved), o.Config.Types, o.Config.TimeSeriesTypes, fromTime)
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes the subscriptions and waits for pending records to be saved.
func (o *Observer) Stop() {
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	o.mu.Lock()
	if o.regular != nil {
		o.regular.Close()
	}
	if o.timeSeries != nil {
		o.timeSeries.Close()
	}
	o.mu.Unlock()

	if o.records != nil {
		// the loop may still be delivering; let it finish the current tick
		done := make(chan struct{})
		o.Feed.Loop().Post(func() {
			close(o.records)
			close(done)
		})
		select {
		case <-done:
			o.recorderWg.Wait()
		case <-time.After(saveTimeout):
			o.Logger.Warning("Recorder did not drain in %s", saveTimeout)
		}
	}
	o.Logger.Info("Observer stopped (%d received, %d not recorded)", o.received.Load(), o.dropped.Load())
}

// -----------------------------------------------------------------------------

// onEvents runs on the feed loop.
func (o *Observer) onEvents(events []*models.MEventRecord) {
	o.received.Add(int64(len(events)))
	o.History.Add(events...)

	if o.records == nil || o.stopped.Load() {
		return
	}
	select {
	case o.records <- events:
	default:
		o.dropped.Add(int64(len(events)))
		o.Logger.Warning("Recorder queue full, %d events not recorded", len(events))
	}
}

func (o *Observer) record() {
	defer o.recorderWg.Done()
	for batch := range o.records {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := o.Store.SaveEvents(ctx, batch); err != nil {
			o.dropped.Add(int64(len(batch)))
			o.Logger.Error("Failed to record %d events: %v", len(batch), helpers.NewDatabaseError("save events", err))
		}
		cancel()
	}
}

// -----------------------------------------------------------------------------

// fromTime reads Config.FromTime: empty means one hour back, a leading "-"
// is a Go duration relative to now, anything else goes through ParseTime.
func (o *Observer) fromTime() (int64, error) {
	v := strings.TrimSpace(o.Config.FromTime)
	switch {
	case v == "":
		return o.Clock().Add(-defaultLookback).UnixMilli(), nil
	case strings.HasPrefix(v, "-"):
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, helpers.NewValidationError("bad from_time %q: %v", v, err)
		}
		return o.Clock().Add(d).UnixMilli(), nil
	default:
		return helpers.ParseTime(v)
	}
}

// timeSeriesSymbols gives every plain symbol the candle period attribute.
// Symbols that already carry one are kept.
func (o *Observer) timeSeriesSymbols(plain []string) []string {
	out := make([]string, 0, len(plain))
	for _, s := range plain {
		if _, ok := symbols.GetAttribute(s, ""); ok {
			out = append(out, s)
			continue
		}
		out = append(out, symbols.ChangeAttribute(s, "", &o.CandlePeriod))
	}
	return out
}

func (o *Observer) resolve(ctx context.Context, raw []string) ([]string, error) {
	r, ok := o.Store.(interfaces.ISymbolResolver)
	if !ok {
		return append([]string(nil), raw...), nil
	}
	return r.ResolveSymbols(ctx, "observe", raw)
}

// -----------------------------------------------------------------------------
// interfaces.IFeedControl
// -----------------------------------------------------------------------------

func (o *Observer) Replay(from time.Time, speed float64) { o.Feed.Replay(from, speed) }
func (o *Observer) SetSpeed(speed float64)               { o.Feed.SetSpeed(speed) }
func (o *Observer) Pause()                               { o.Feed.Pause() }
func (o *Observer) StopAndResume()                       { o.Feed.StopAndResume() }
func (o *Observer) StopAndClear()                        { o.Feed.StopAndClear() }
func (o *Observer) State() models.MFeedState             { return o.Feed.State() }

// SetSymbols replaces the symbols of both subscriptions.
func (o *Observer) SetSymbols(ctx context.Context, list []string) error {
	resolved, err := o.resolve(ctx, list)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.symbols = resolved
	if o.regular != nil {
		o.regular.SetSymbols(resolved...)
	}
	if o.timeSeries != nil {
		o.timeSeries.SetSymbols(o.timeSeriesSymbols(resolved)...)
	}
	o.Logger.Info("Symbols replaced. New count: %d", len(resolved))
	return nil
}

// Symbols returns the plain symbols being observed.
func (o *Observer) Symbols() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.symbols...)
}

// -----------------------------------------------------------------------------
// Reports
// -----------------------------------------------------------------------------

// Summaries computes candle statistics for every observed symbol that has
// candles in the local history.
func (o *Observer) Summaries() []analysis.MSeriesSummary {
	var out []analysis.MSeriesSummary
	for _, sym := range o.timeSeriesSymbols(o.Symbols()) {
		candles := latestPerIndex(o.History.Since(models.CandleSchema.Name, sym, 0))
		if len(candles) == 0 {
			continue
		}
		out = append(out, analysis.Summarize(sym, candles))
	}
	return out
}

// Report logs Summaries every interval until ctx is done.
func (o *Observer) Report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range o.Summaries() {
				o.Logger.Info("%s: %d candles, last %.2f (%+.2f%%), mean %.2f std %.2f, corr %.2f, vol z %.2f",
					s.Symbol, s.Candles, s.LastClose, s.ChangePercent, s.MeanClose, s.StdClose,
					s.PriceVolumeCorrelation, s.VolumeZScore)
			}
		}
	}
}

// latestPerIndex keeps the last version of each candle, ordered by index.
func latestPerIndex(records []*models.MEventRecord) []*models.MEventRecord {
	byIndex := make(map[int64]*models.MEventRecord, len(records))
	for _, r := range records {
		byIndex[r.Index] = r
	}
	out := make([]*models.MEventRecord, 0, len(byIndex))
	for _, r := range byIndex {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// -----------------------------------------------------------------------------

// KeepConnected connects to url and, every interval until ctx is done,
// connects again if the feed is down. A connect already in progress is left
// alone by the transport.
func (o *Observer) KeepConnected(ctx context.Context, url string, interval time.Duration) error {
	if err := o.Feed.Connect(url); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if o.stopped.Load() {
					return
				}
				if o.Feed.State().Connected {
					continue
				}
				o.Logger.Debug("Feed is down, connecting to %s", url)
				if err := o.Feed.Connect(url); err != nil {
					o.Logger.Error("Reconnect failed: %v", err)
				}
			}
		}
	}()
	return nil
}
