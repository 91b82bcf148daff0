// Package feed multiplexes many logical subscriptions over one push-bus
// session. It keeps the merged (type, symbol) table with reference counts,
// sends only the minimal subscription diff, caches the latest events for late
// joiners and resends the whole table after every reconnect.
//
// All state lives on a single event loop; public methods post work to it.
package feed

import (
	"context"
	"sync/atomic"
	"time"

	"market-feed/src/eventloop"
	"market-feed/src/helpers"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
)

// Feed is the client side of the push bus.
type Feed struct {
	loop      *eventloop.Loop
	transport interfaces.ITransport
	log       *logger.Logger

	// owned by the loop
	regular        *subTable
	timeSeries     *subTable
	schemas        *schemaCache
	resetPending   bool
	flushScheduled bool
	state          models.MFeedState
	stateListeners []func(models.MFeedState)

	snapshot atomic.Pointer[models.MFeedState]
}

// -----------------------------------------------------------------------------

// New wires a feed to transport. Nothing happens until the loop is driven by
// Run (or RunUntilIdle in tests).
func New(transport interfaces.ITransport, log *logger.Logger) *Feed {
	if log == nil {
		log = logger.NewNopLogger()
	}
	f := &Feed{
		loop:       eventloop.New(log.Named("loop")),
		transport:  transport,
		log:        log,
		regular:    newSubTable(false),
		timeSeries: newSubTable(true),
		schemas:    newSchemaCache(),
	}
	f.publishState()
	transport.SetHandler(transportHandler{f})
	return f
}

// Loop exposes the scheduler, mainly for tests driving it by hand.
func (f *Feed) Loop() *eventloop.Loop { return f.loop }

// Run drives the feed until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	return f.loop.Run(ctx)
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

type authTokenSetter interface {
	SetAuthToken(token string)
}

type messageSizeLimiter interface {
	SetMaxSendMessageSize(size int)
}

// LogLevel changes the feed's log level (and the transport's when it shares the logger).
func (f *Feed) LogLevel(level string) *Feed {
	f.log.SetLevel(level)
	return f
}

// MaxSendMessageSize limits outbound frames when the transport supports it.
func (f *Feed) MaxSendMessageSize(size int) *Feed {
	if t, ok := f.transport.(messageSizeLimiter); ok {
		t.SetMaxSendMessageSize(size)
	}
	return f
}

// SetAuthToken sets the token sent with the next handshake.
func (f *Feed) SetAuthToken(token string) *Feed {
	if t, ok := f.transport.(authTokenSetter); ok {
		t.SetAuthToken(token)
	}
	return f
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connect starts a session with the push bus at url.
func (f *Feed) Connect(url string) error {
	return f.transport.Connect(url)
}

// Disconnect closes the session. Subscriptions stay and are resent on the next Connect.
func (f *Feed) Disconnect() {
	f.transport.Disconnect()
}

// State returns the latest observable state. Safe from any goroutine.
func (f *Feed) State() models.MFeedState {
	return *f.snapshot.Load()
}

// OnStateChange registers fn to be called on the loop after every state change.
func (f *Feed) OnStateChange(fn func(models.MFeedState)) {
	f.loop.Post(func() { f.stateListeners = append(f.stateListeners, fn) })
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// CreateSubscription returns a subscription to the latest events of types.
func (f *Feed) CreateSubscription(types ...string) *Subscription {
	return newSubscription(f, types, false)
}

// CreateTimeSeriesSubscription returns a subscription to the history of types
// starting at the bound given by SetFromTime.
func (f *Feed) CreateTimeSeriesSubscription(types ...string) *Subscription {
	return newSubscription(f, types, true)
}

// -----------------------------------------------------------------------------
// Replay control
// -----------------------------------------------------------------------------

// Replay asks the server to replay history from the given time at speed
// (1 is real time).
func (f *Feed) Replay(from time.Time, speed float64) {
	patch := models.MStatePatch{
		Replay: models.Ptr(true),
		Clear:  models.Ptr(false),
		Time:   models.Ptr(from.UnixMilli()),
		Speed:  models.Ptr(speed),
	}
	f.loop.Post(func() { f.changeState(patch) })
}

// Pause freezes the replay.
func (f *Feed) Pause() {
	f.SetSpeed(0)
}

// SetSpeed changes the replay speed.
func (f *Feed) SetSpeed(speed float64) {
	patch := models.MStatePatch{
		Replay: models.Ptr(true),
		Clear:  models.Ptr(false),
		Speed:  models.Ptr(speed),
	}
	f.loop.Post(func() { f.changeState(patch) })
}

// StopAndResume leaves replay and returns to live data.
func (f *Feed) StopAndResume() {
	patch := models.MStatePatch{
		Replay: models.Ptr(false),
		Clear:  models.Ptr(false),
		Speed:  models.Ptr(0.0),
	}
	f.loop.Post(func() { f.changeState(patch) })
}

// StopAndClear leaves replay and stops delivery altogether.
func (f *Feed) StopAndClear() {
	patch := models.MStatePatch{
		Replay: models.Ptr(false),
		Clear:  models.Ptr(true),
		Speed:  models.Ptr(0.0),
	}
	f.loop.Post(func() { f.changeState(patch) })
}

func (f *Feed) changeState(patch models.MStatePatch) {
	f.onStateChange(patch)
	f.stateChangeAction(patch.Time != nil, true)
}

// stateChangeAction sends the control command matching the local state.
// withTime selects replay over setSpeed; signalResume sends stopAndResume for
// the live state, which a resync skips since a fresh session is live anyway.
func (f *Feed) stateChangeAction(withTime, signalResume bool) {
	switch {
	case f.state.Clear:
		f.control(models.OpStopAndClear)
	case f.state.Replay && withTime:
		f.control(models.OpReplay, f.state.Time, f.state.Speed)
	case f.state.Replay:
		f.control(models.OpSetSpeed, f.state.Speed)
	case signalResume:
		f.control(models.OpStopAndResume)
	}
}

// control publishes a command. While disconnected nothing is sent: the next
// resync reissues the intended state.
func (f *Feed) control(op string, args ...interface{}) {
	f.transport.ConnectIfNeeded()
	if !f.state.Connected {
		f.log.Debug("control %s deferred until connected", op)
		return
	}
	if args == nil {
		args = []interface{}{}
	}
	if err := f.transport.Publish(models.ChannelControl, models.MControlMessage{Op: op, Args: args}); err != nil {
		f.log.Warning("control %s not sent: %v", op, err)
	}
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

func (f *Feed) onStateChange(patch models.MStatePatch) {
	if patch.Connected != nil && *patch.Connected {
		f.resetPending = true
		f.scheduleFlush()
	}
	patch.Apply(&f.state)
	f.publishState()
	for _, fn := range f.stateListeners {
		st := f.State()
		_ = helpers.SafeCall(f.log, "state listener", func() { fn(st) })
	}
}

func (f *Feed) publishState() {
	st := f.state
	if st.ReplaySupported != nil {
		st.ReplaySupported = models.Ptr(*st.ReplaySupported)
	}
	f.snapshot.Store(&st)
}

// -----------------------------------------------------------------------------
// Subscription diff
// -----------------------------------------------------------------------------

func (f *Feed) scheduleFlush() {
	if f.flushScheduled {
		return
	}
	f.flushScheduled = true
	f.loop.Defer(f.flush)
}

// flush sends the pending diff, or the whole table after a reconnect. While
// disconnected the diff keeps accumulating.
func (f *Feed) flush() {
	f.flushScheduled = false
	f.transport.ConnectIfNeeded()
	if !f.state.Connected {
		return
	}

	msg := &models.MSubMessage{}
	if f.resetPending {
		f.resetPending = false
		f.stateChangeAction(true, false)
		msg.Reset = true
		msg.Add = symbolLists(f.regular.total)
		msg.AddTimeSeries = timeSeriesLists(f.timeSeries.totalBounds())
	} else {
		msg.Add = symbolLists(f.regular.add)
		msg.Remove = symbolLists(f.regular.remove)
		msg.AddTimeSeries = timeSeriesLists(f.timeSeries.add)
		msg.RemoveTimeSeries = symbolLists(f.timeSeries.remove)
	}
	f.regular.clearPending()
	f.timeSeries.clearPending()

	if msg.IsEmpty() {
		return
	}
	if err := f.transport.Publish(models.ChannelSub, msg); err != nil {
		// the next reconnect resends everything
		f.log.Warning("subscription update not sent: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Inbound data
// -----------------------------------------------------------------------------

func (f *Feed) onData(data []interface{}, timeSeries bool) {
	records, err := f.schemas.decodeBatch(data)
	if err != nil {
		f.log.Warning("dropping data batch: %v", err)
		return
	}
	t := f.regular
	if timeSeries {
		t = f.timeSeries
	}
	for _, rec := range records {
		item := t.apply(rec)
		if item == nil {
			continue
		}
		listeners := append([]*Subscription(nil), item.listeners...)
		for _, s := range listeners {
			_ = helpers.SafeCall(f.log, "dispatch to "+s.id, func() { s.process(rec) })
		}
	}
}

// -----------------------------------------------------------------------------

// transportHandler moves transport notifications onto the loop.
type transportHandler struct {
	f *Feed
}

func (h transportHandler) OnConnectedChange(connected bool) {
	h.f.loop.Post(func() {
		h.f.onStateChange(models.MStatePatch{Connected: models.Ptr(connected)})
	})
}

func (h transportHandler) OnMessage(channel string, payload interfaces.IPayload) {
	f := h.f
	switch channel {
	case models.ChannelState:
		var patch models.MStatePatch
		if err := payload.Decode(&patch); err != nil {
			f.log.Warning("bad state message: %v", err)
			return
		}
		// connected belongs to the transport, never to the server
		patch.Connected = nil
		f.loop.Post(func() { f.onStateChange(patch) })
	case models.ChannelSchema:
		var msg models.MSchemaMessage
		if err := payload.Decode(&msg); err != nil || msg.Type == "" || len(msg.Fields) == 0 {
			f.log.Warning("bad schema message: %v", err)
			return
		}
		f.loop.Post(func() { f.schemas.register(msg.Type, msg.Fields) })
	case models.ChannelData, models.ChannelTimeSeriesData:
		var data []interface{}
		if err := payload.Decode(&data); err != nil {
			f.log.Warning("bad data message on %s: %v", channel, err)
			return
		}
		timeSeries := channel == models.ChannelTimeSeriesData
		f.loop.Post(func() { f.onData(data, timeSeries) })
	default:
		f.log.Debug("ignoring message on %s", channel)
	}
}
