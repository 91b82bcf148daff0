package feed

import (
	"testing"
	"time"

	"market-feed/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnectedFeed returns a feed whose initial (empty) resync was already sent.
func newConnectedFeed(t *testing.T) (*Feed, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	f := New(tr, nil)
	tr.setConnected(true)
	f.Loop().RunUntilIdle()
	msgs := subMessages(tr.take())
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Reset)
	return f, tr
}

type recorder struct {
	calls [][]*models.MEventRecord
}

func (r *recorder) handle(events []*models.MEventRecord) {
	r.calls = append(r.calls, events)
}

func (r *recorder) all() []*models.MEventRecord {
	var out []*models.MEventRecord
	for _, c := range r.calls {
		out = append(out, c...)
	}
	return out
}

// -----------------------------------------------------------------------------

func TestQuoteScenario(t *testing.T) {
	f, tr := newConnectedFeed(t)

	h1 := f.CreateSubscription("Quote")
	var r1 recorder
	h1.OnEvent(r1.handle)
	h1.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	assert.Equal(t, []*models.MSubMessage{{Add: map[string][]string{"Quote": {"AAPL"}}}}, subMessages(tr.take()))

	h2 := f.CreateSubscription("Quote")
	var r2 recorder
	h2.OnEvent(r2.handle)
	h2.AddSymbols("AAPL", "MSFT")
	f.Loop().RunUntilIdle()
	assert.Equal(t, []*models.MSubMessage{{Add: map[string][]string{"Quote": {"MSFT"}}}}, subMessages(tr.take()))
	assert.Len(t, f.regular.total[subKey{"Quote", "AAPL"}].listeners, 2)

	h1.Close()
	f.Loop().RunUntilIdle()
	assert.Empty(t, tr.take())
	assert.Len(t, f.regular.total[subKey{"Quote", "AAPL"}].listeners, 1)

	h2.RemoveSymbols("AAPL")
	f.Loop().RunUntilIdle()
	assert.Equal(t, []*models.MSubMessage{{Remove: map[string][]string{"Quote": {"AAPL"}}}}, subMessages(tr.take()))
	assert.NotContains(t, f.regular.total, subKey{"Quote", "AAPL"})

	tr.deliver(t, models.ChannelData, quotes("MSFT", 101))
	f.Loop().RunUntilIdle()

	require.Len(t, r2.calls, 1)
	require.Len(t, r2.calls[0], 1)
	ev := r2.calls[0][0]
	assert.Equal(t, "Quote", ev.Type)
	assert.Equal(t, "MSFT", ev.Symbol)
	assert.Equal(t, 101.0, ev.Float("price"))
	assert.Empty(t, r1.calls)
}

func TestFlushTriggersLazyConnect(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, nil)
	f.CreateSubscription("Quote").AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	assert.Equal(t, 1, tr.connectCalls)
	assert.Empty(t, tr.published)
	// the diff stays pending until the connection comes up
	assert.Contains(t, f.regular.add, subKey{"Quote", "AAPL"})
}

func TestReAddingHeldSymbolSendsNothing(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote", "Trade")
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	msgs := subMessages(tr.take())
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string][]string{"Quote": {"AAPL"}, "Trade": {"AAPL"}}, msgs[0].Add)

	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	assert.Empty(t, tr.take())
}

func TestMutationsInOneTickFormOneDiff(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")

	h.AddSymbols("A", "B")
	h.RemoveSymbols("A")
	h.AddSymbols("C")
	h.SetSymbols("B", "C", "D", "D")
	f.Loop().RunUntilIdle()

	msgs := subMessages(tr.take())
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string][]string{"Quote": {"B", "C", "D"}}, msgs[0].Add)
	assert.Equal(t, map[string][]string{"Quote": {"A"}}, msgs[0].Remove)
	assert.Equal(t, map[string]struct{}{"B": {}, "C": {}, "D": {}}, h.symbols)
	assert.Empty(t, f.regular.add)
	assert.Empty(t, f.regular.remove)
}

func TestSetSymbolsIsOrderIndependent(t *testing.T) {
	f, _ := newConnectedFeed(t)
	a := f.CreateSubscription("Quote")
	b := f.CreateSubscription("Quote")

	a.AddSymbols("X", "Y")
	a.SetSymbols("Y", "Z")
	b.AddSymbols("Z")
	b.AddSymbols("Y")
	b.RemoveSymbols("X")
	f.Loop().RunUntilIdle()

	assert.Equal(t, a.symbols, b.symbols)
	assert.Len(t, f.regular.total, 2)
	for _, key := range []subKey{{"Quote", "Y"}, {"Quote", "Z"}} {
		assert.Len(t, f.regular.total[key].listeners, 2)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	tr.take()

	h.Close()
	h.Close()
	h.AddSymbols("MSFT")
	h.SetSymbols("IBM")
	f.Loop().RunUntilIdle()

	msgs := subMessages(tr.take())
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string][]string{"Quote": {"AAPL"}}, msgs[0].Remove)
	assert.Nil(t, msgs[0].Add)
	assert.Empty(t, f.regular.total)
	assert.Equal(t, handleClosed, h.state)
}

func TestLateJoinerGetsCachedEvent(t *testing.T) {
	f, tr := newConnectedFeed(t)
	first := f.CreateSubscription("Quote")
	first.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelData, quotes("AAPL", 10, "AAPL", 11))
	f.Loop().RunUntilIdle()

	late := f.CreateSubscription("Quote")
	var r recorder
	late.OnEvent(r.handle)
	late.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	require.Len(t, r.calls, 1)
	require.Len(t, r.calls[0], 1)
	assert.Equal(t, 11.0, r.calls[0][0].Float("price"))
}

func TestOneCallbackPerTickWithDedup(t *testing.T) {
	f, _ := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(r.handle)
	h.AddSymbols("AAPL", "MSFT")
	f.Loop().RunUntilIdle()

	tr := f.transport.(*fakeTransport)
	tr.deliver(t, models.ChannelData, quotes("AAPL", 1, "MSFT", 2))
	tr.deliver(t, models.ChannelData, quotes("AAPL", 3))
	f.Loop().RunUntilIdle()

	require.Len(t, r.calls, 1)
	batch := r.calls[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "AAPL", batch[0].Symbol)
	assert.Equal(t, 3.0, batch[0].Float("price"))
	assert.Equal(t, "MSFT", batch[1].Symbol)

	// a later tick starts a fresh batch
	tr.deliver(t, models.ChannelData, quotes("MSFT", 4))
	f.Loop().RunUntilIdle()
	require.Len(t, r.calls, 2)
	assert.Len(t, r.calls[1], 1)
}

func TestMutationFromCallbackStartsNextCycle(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(func(events []*models.MEventRecord) {
		r.handle(events)
		if len(r.calls) == 1 {
			h.AddSymbols("MSFT")
		}
	})
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	tr.take()

	tr.deliver(t, models.ChannelData, quotes("AAPL", 1))
	f.Loop().RunUntilIdle()
	require.Len(t, r.calls, 1)
	assert.Equal(t, []*models.MSubMessage{{Add: map[string][]string{"Quote": {"MSFT"}}}}, subMessages(tr.take()))

	tr.deliver(t, models.ChannelData, quotes("MSFT", 2))
	f.Loop().RunUntilIdle()
	require.Len(t, r.calls, 2)
	require.Len(t, r.calls[1], 1)
	assert.Equal(t, "MSFT", r.calls[1][0].Symbol)
	assert.Len(t, r.all(), 2)
	assert.Empty(t, tr.take())
}

func TestCloseFromCallbackStopsDelivery(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(func(events []*models.MEventRecord) {
		r.handle(events)
		h.Close()
	})
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	tr.take()

	tr.deliver(t, models.ChannelData, quotes("AAPL", 1))
	f.Loop().RunUntilIdle()
	require.Len(t, r.calls, 1)
	assert.Equal(t, []*models.MSubMessage{{Remove: map[string][]string{"Quote": {"AAPL"}}}}, subMessages(tr.take()))
	assert.NotContains(t, f.regular.total, subKey{"Quote", "AAPL"})

	tr.deliver(t, models.ChannelData, quotes("AAPL", 2))
	f.Loop().RunUntilIdle()
	assert.Len(t, r.calls, 1)
}

func TestCallbackAssignedLateReceivesQueuedEvents(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	tr.deliver(t, models.ChannelData, quotes("AAPL", 5))
	f.Loop().RunUntilIdle()

	var r recorder
	h.OnEvent(r.handle)
	f.Loop().RunUntilIdle()
	require.Len(t, r.all(), 1)
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	f, tr := newConnectedFeed(t)
	bad := f.CreateSubscription("Quote")
	bad.OnEvent(func([]*models.MEventRecord) { panic("consumer bug") })
	bad.AddSymbols("AAPL")
	good := f.CreateSubscription("Quote")
	var r recorder
	good.OnEvent(r.handle)
	good.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelData, quotes("AAPL", 1))
	assert.NotPanics(t, f.Loop().RunUntilIdle)
	assert.Len(t, r.all(), 1)

	tr.deliver(t, models.ChannelData, quotes("AAPL", 2))
	f.Loop().RunUntilIdle()
	assert.Len(t, r.all(), 2)
	assert.Len(t, f.regular.total[subKey{"Quote", "AAPL"}].listeners, 2)
}

func TestUnsubscribedEventsAreIgnored(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(r.handle)
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelData, quotes("IBM", 1))
	f.Loop().RunUntilIdle()
	assert.Empty(t, r.calls)
	assert.NotContains(t, f.regular.total, subKey{"Quote", "IBM"})
}

func TestRemoveDropsQueuedEvents(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(r.handle)
	h.AddSymbols("AAPL", "MSFT")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelData, quotes("AAPL", 1, "MSFT", 2))
	h.RemoveSymbols("AAPL")
	f.Loop().RunUntilIdle()

	require.Len(t, r.calls, 1)
	require.Len(t, r.calls[0], 1)
	assert.Equal(t, "MSFT", r.calls[0][0].Symbol)
}

// -----------------------------------------------------------------------------
// Schemas
// -----------------------------------------------------------------------------

func TestAnnouncedSchemaThenNamedBatch(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Trade")
	var r recorder
	h.OnEvent(r.handle)
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelSchema, models.MSchemaMessage{Type: "Trade", Fields: []string{"eventSymbol", "price", "size"}})
	tr.deliver(t, models.ChannelData, []interface{}{"Trade", []interface{}{"AAPL", 190.5, 100}})
	f.Loop().RunUntilIdle()

	events := r.all()
	require.Len(t, events, 1)
	assert.Equal(t, 190.5, events[0].Float("price"))
	assert.Equal(t, 100.0, events[0].Float("size"))
}

func TestInlineSchemaIsRemembered(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(r.handle)
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelData, quotes("AAPL", 1))
	tr.deliver(t, models.ChannelData, []interface{}{"Quote", []interface{}{"AAPL", 2}})
	f.Loop().RunUntilIdle()

	events := r.all()
	require.Len(t, events, 1)
	assert.Equal(t, 2.0, events[0].Float("price"))
}

func TestMalformedBatchesAreDropped(t *testing.T) {
	f, tr := newConnectedFeed(t)
	h := f.CreateSubscription("Quote")
	var r recorder
	h.OnEvent(r.handle)
	h.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()

	tr.deliver(t, models.ChannelData, []interface{}{"Unknown", []interface{}{"AAPL"}})
	tr.deliver(t, models.ChannelData, quotes("AAPL"))
	tr.deliver(t, models.ChannelData, []interface{}{42})
	tr.deliver(t, models.ChannelData, map[string]int{"x": 1})
	assert.NotPanics(t, f.Loop().RunUntilIdle)
	assert.Empty(t, r.calls)

	tr.deliver(t, models.ChannelData, quotes("AAPL", 7))
	f.Loop().RunUntilIdle()
	assert.Len(t, r.all(), 1)
}

// -----------------------------------------------------------------------------
// Reconnect
// -----------------------------------------------------------------------------

func TestReconnectSendsResetAndDiscardsPendingDiffs(t *testing.T) {
	f, tr := newConnectedFeed(t)
	q := f.CreateSubscription("Quote")
	q.AddSymbols("AAPL", "IBM")
	c := f.CreateTimeSeriesSubscription("Candle")
	c.SetFromTime(int64(1000))
	c.AddSymbols("AAPL")
	f.Loop().RunUntilIdle()
	tr.take()

	tr.setConnected(false)
	q.RemoveSymbols("IBM")
	q.AddSymbols("MSFT")
	f.Loop().RunUntilIdle()
	assert.Empty(t, tr.published)
	assert.False(t, f.State().Connected)

	tr.setConnected(true)
	f.Loop().RunUntilIdle()

	msgs := subMessages(tr.take())
	require.Len(t, msgs, 1)
	assert.Equal(t, &models.MSubMessage{
		Reset: true,
		Add:   map[string][]string{"Quote": {"AAPL", "MSFT"}},
		AddTimeSeries: map[string][]models.MTimeSeriesSymbol{
			"Candle": {{EventSymbol: "AAPL", FromTime: 1000}},
		},
	}, msgs[0])
	assert.True(t, f.State().Connected)

	f.Loop().RunUntilIdle()
	assert.Empty(t, tr.published)
}

// -----------------------------------------------------------------------------
// State and replay control
// -----------------------------------------------------------------------------

func TestServerStatePatchMerges(t *testing.T) {
	f, tr := newConnectedFeed(t)
	var seen []models.MFeedState
	f.OnStateChange(func(s models.MFeedState) { seen = append(seen, s) })

	tr.deliver(t, models.ChannelState, map[string]interface{}{"replaySupported": true, "time": 7000, "connected": false})
	f.Loop().RunUntilIdle()

	st := f.State()
	require.NotNil(t, st.ReplaySupported)
	assert.True(t, *st.ReplaySupported)
	assert.Equal(t, int64(7000), st.Time)
	assert.True(t, st.Connected)
	assert.Equal(t, models.ModeLive, st.Mode())
	require.Len(t, seen, 1)
	assert.Equal(t, int64(7000), seen[0].Time)

	tr.deliver(t, models.ChannelState, map[string]interface{}{"time": 8000})
	f.Loop().RunUntilIdle()
	assert.Equal(t, int64(8000), f.State().Time)
	assert.True(t, *f.State().ReplaySupported)
}

func TestReplayControlCommands(t *testing.T) {
	f, tr := newConnectedFeed(t)

	f.Replay(time.UnixMilli(5000), 2)
	f.Loop().RunUntilIdle()
	assert.Equal(t, []models.MControlMessage{{Op: models.OpReplay, Args: []interface{}{int64(5000), 2.0}}}, controlMessages(tr.take()))
	assert.Equal(t, models.ModeReplaying, f.State().Mode())

	f.Pause()
	f.Loop().RunUntilIdle()
	assert.Equal(t, []models.MControlMessage{{Op: models.OpSetSpeed, Args: []interface{}{0.0}}}, controlMessages(tr.take()))
	assert.Equal(t, models.ModePaused, f.State().Mode())

	f.SetSpeed(4)
	f.Loop().RunUntilIdle()
	assert.Equal(t, []models.MControlMessage{{Op: models.OpSetSpeed, Args: []interface{}{4.0}}}, controlMessages(tr.take()))

	f.StopAndClear()
	f.Loop().RunUntilIdle()
	assert.Equal(t, []models.MControlMessage{{Op: models.OpStopAndClear, Args: []interface{}{}}}, controlMessages(tr.take()))
	assert.Equal(t, models.ModeCleared, f.State().Mode())

	f.StopAndResume()
	f.Loop().RunUntilIdle()
	assert.Equal(t, []models.MControlMessage{{Op: models.OpStopAndResume, Args: []interface{}{}}}, controlMessages(tr.take()))
	assert.Equal(t, models.ModeLive, f.State().Mode())
}

func TestReconnectReissuesControlIntent(t *testing.T) {
	f, tr := newConnectedFeed(t)
	f.Replay(time.UnixMilli(5000), 1)
	f.Loop().RunUntilIdle()
	tr.deliver(t, models.ChannelState, map[string]interface{}{"time": 6500})
	f.Loop().RunUntilIdle()
	tr.take()

	tr.setConnected(false)
	f.SetSpeed(3)
	f.Loop().RunUntilIdle()
	assert.Empty(t, tr.published)

	tr.setConnected(true)
	f.Loop().RunUntilIdle()
	list := tr.take()
	require.Len(t, list, 2)
	assert.Equal(t, models.ChannelControl, list[0].channel)
	assert.Equal(t, models.MControlMessage{Op: models.OpReplay, Args: []interface{}{int64(6500), 3.0}}, list[0].data)
	assert.Equal(t, models.ChannelSub, list[1].channel)
}

func TestReconnectInLiveModeSendsNoControl(t *testing.T) {
	f, tr := newConnectedFeed(t)
	f.StopAndResume()
	f.Loop().RunUntilIdle()
	tr.take()

	tr.setConnected(false)
	tr.setConnected(true)
	f.Loop().RunUntilIdle()
	assert.Empty(t, controlMessages(tr.take()))
}

func TestReconnectAfterClearReissuesClear(t *testing.T) {
	f, tr := newConnectedFeed(t)
	f.StopAndClear()
	f.Loop().RunUntilIdle()
	tr.take()

	tr.setConnected(false)
	tr.setConnected(true)
	f.Loop().RunUntilIdle()
	assert.Equal(t, []models.MControlMessage{{Op: models.OpStopAndClear, Args: []interface{}{}}}, controlMessages(tr.take()))
}

func TestOptionsReachTransport(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, nil)
	f.SetAuthToken("secret").LogLevel("DEBUG").MaxSendMessageSize(1024)
	assert.Equal(t, "secret", tr.token)

	require.NoError(t, f.Connect("ws://feed.test/feed"))
	assert.Equal(t, "ws://feed.test/feed", tr.url)
}
