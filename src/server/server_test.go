package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"market-feed/src/config"
	"market-feed/src/helpers"
	"market-feed/src/interfaces"
	"market-feed/src/models"
	"market-feed/src/transport"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Test client
// -----------------------------------------------------------------------------

type wireClient struct {
	t     *testing.T
	conn  *websocket.Conn
	codec transport.Codec
}

func newTestServer(t *testing.T, mutate func(*models.MConfig)) (*PushServer, *httptest.Server) {
	t.Helper()
	cfg := config.Default().MConfig
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := NewPushServer(cfg, nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, token string) (*wireClient, models.MHandshakeReply) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/feed", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	codec, err := transport.NewCodec("json")
	require.NoError(t, err)
	c := &wireClient{t: t, conn: conn, codec: codec}

	hs := models.MHandshake{}
	if token != "" {
		hs.Ext = map[string]interface{}{models.AuthTokenExt: token}
	}
	c.send(models.ChannelHandshake, hs)

	channel, payload := c.next()
	require.Equal(t, models.ChannelHandshake, channel)
	var reply models.MHandshakeReply
	require.NoError(t, payload.Decode(&reply))
	return c, reply
}

func (c *wireClient) send(channel string, data interface{}) {
	c.t.Helper()
	frame, err := c.codec.Encode(channel, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(c.codec.FrameType(), frame))
}

func (c *wireClient) next() (string, interfaces.IPayload) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, frame, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	channel, payload, err := c.codec.Decode(frame)
	require.NoError(c.t, err)
	return channel, payload
}

// nextOn skips frames until one arrives on channel.
func (c *wireClient) nextOn(channel string) interfaces.IPayload {
	c.t.Helper()
	for {
		ch, payload := c.next()
		if ch == channel {
			return payload
		}
	}
}

func (c *wireClient) nextData(channel string) (string, []interface{}) {
	c.t.Helper()
	var data []interface{}
	require.NoError(c.t, c.nextOn(channel).Decode(&data))
	require.Len(c.t, data, 2)
	name, _ := data[0].(string)
	values, _ := data[1].([]interface{})
	return name, values
}

func (c *wireClient) nextState() map[string]interface{} {
	c.t.Helper()
	var state map[string]interface{}
	require.NoError(c.t, c.nextOn(models.ChannelState).Decode(&state))
	return state
}

func quote(symbol string, t int64, bid float64) *models.MEventRecord {
	return models.NewEventRecord("Quote", map[string]any{
		models.FieldEventSymbol: symbol, models.FieldTime: t,
		"bidPrice": bid, "bidSize": 1.0, "askPrice": bid + 1, "askSize": 1.0,
	})
}

func candle(symbol string, t, index int64, closePrice float64) *models.MEventRecord {
	return models.NewEventRecord("Candle", map[string]any{
		models.FieldEventSymbol: symbol, models.FieldTime: t, models.FieldIndex: index,
		"open": closePrice, "high": closePrice, "low": closePrice, "close": closePrice, "volume": 10.0, "vwap": closePrice,
	})
}

func waitSessions(t *testing.T, srv *PushServer, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(srv.Sessions()) == n }, 3*time.Second, 10*time.Millisecond)
}

// -----------------------------------------------------------------------------
// Handshake
// -----------------------------------------------------------------------------

func TestHandshakePushesReplaySupported(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c, reply := dial(t, ts, "")

	assert.True(t, reply.Successful)
	assert.NotEmpty(t, reply.ClientID)
	assert.Equal(t, map[string]interface{}{"replaySupported": true}, c.nextState())
}

func TestHandshakeChecksToken(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *models.MConfig) { cfg.Server.AuthToken = "secret" })

	_, reply := dial(t, ts, "wrong")
	assert.False(t, reply.Successful)
	assert.NotEmpty(t, reply.Error)

	_, reply = dial(t, ts, "secret")
	assert.True(t, reply.Successful)
	waitSessions(t, srv, 1)
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

func TestRegularSubscriptionReceivesSnapshotAndLiveData(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.History.Add(quote("AAPL", 1000, 10))

	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)
	c.send(models.ChannelSub, models.MSubMessage{Add: map[string][]string{"Quote": {"AAPL"}}})

	var schema models.MSchemaMessage
	require.NoError(t, c.nextOn(models.ChannelSchema).Decode(&schema))
	assert.Equal(t, models.QuoteSchema.Name, schema.Type)
	assert.Equal(t, models.QuoteSchema.Fields, schema.Fields)

	name, values := c.nextData(models.ChannelData)
	assert.Equal(t, "Quote", name)
	require.Len(t, values, len(models.QuoteSchema.Fields))
	assert.Equal(t, "AAPL", values[0])
	assert.Equal(t, 10.0, values[2])

	srv.Broadcast([]*models.MEventRecord{quote("IBM", 2000, 1), quote("AAPL", 2000, 11)})
	name, values = c.nextData(models.ChannelData)
	assert.Equal(t, "Quote", name)
	require.Len(t, values, len(models.QuoteSchema.Fields))
	assert.Equal(t, 11.0, values[2])
}

func TestRemoveIsProcessedBeforeAdd(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)

	c.send(models.ChannelSub, models.MSubMessage{Add: map[string][]string{"Quote": {"AAPL", "IBM"}}})
	// remove and re-add in one message keeps AAPL
	c.send(models.ChannelSub, models.MSubMessage{
		Add:    map[string][]string{"Quote": {"AAPL"}},
		Remove: map[string][]string{"Quote": {"AAPL", "IBM"}},
	})
	require.Eventually(t, func() bool {
		return srv.Sessions()[0].Stats().RegularSymbols == 1
	}, 3*time.Second, 10*time.Millisecond)

	srv.Broadcast([]*models.MEventRecord{quote("IBM", 1, 1), quote("AAPL", 1, 2)})
	_, values := c.nextData(models.ChannelData)
	require.Len(t, values, len(models.QuoteSchema.Fields))
	assert.Equal(t, "AAPL", values[0])
}

func TestResetClearsSubscriptions(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)

	c.send(models.ChannelSub, models.MSubMessage{Add: map[string][]string{"Quote": {"AAPL", "IBM"}}})
	c.send(models.ChannelSub, models.MSubMessage{Reset: true, Add: map[string][]string{"Quote": {"MSFT"}}})
	require.Eventually(t, func() bool {
		return srv.Sessions()[0].Stats().RegularSymbols == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTimeSeriesHistoryAndBrokenFromTime(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.History.Add(candle("AAPL", 1000, 1, 1), candle("AAPL", 2000, 2, 2), candle("AAPL", 3000, 3, 3))

	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)
	c.send(models.ChannelSub, map[string]interface{}{
		"addTimeSeries": map[string]interface{}{
			"Candle": []interface{}{
				map[string]interface{}{"eventSymbol": "AAPL", "fromTime": 2000},
				map[string]interface{}{"eventSymbol": "IBM", "fromTime": "yesterday"},
			},
		},
	})

	name, values := c.nextData(models.ChannelTimeSeriesData)
	assert.Equal(t, "Candle", name)
	n := len(models.CandleSchema.Fields)
	require.Len(t, values, 2*n)
	assert.Equal(t, 2000.0, values[1])
	assert.Equal(t, 3000.0, values[n+1])

	stats := srv.Sessions()[0].Stats()
	assert.Equal(t, 1, stats.TimeSeriesSymbols)

	// live events older than fromTime are filtered
	srv.Broadcast([]*models.MEventRecord{candle("AAPL", 500, 9, 9), candle("AAPL", 4000, 4, 4)})
	_, values = c.nextData(models.ChannelTimeSeriesData)
	require.Len(t, values, n)
	assert.Equal(t, 4000.0, values[1])
}

func TestRegularOnlyTypeRejectedForTimeSeries(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)

	c.send(models.ChannelSub, models.MSubMessage{
		AddTimeSeries: map[string][]models.MTimeSeriesSymbol{"Quote": {{EventSymbol: "AAPL", FromTime: 0}}},
		Add:           map[string][]string{"Trade": {"AAPL"}},
	})
	require.Eventually(t, func() bool {
		return srv.Sessions()[0].Stats().RegularSymbols == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.Sessions()[0].Stats().TimeSeriesSymbols)
}

// -----------------------------------------------------------------------------
// OnDemand
// -----------------------------------------------------------------------------

func TestStopAndClearThenResume(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)

	c.send(models.ChannelSub, models.MSubMessage{Add: map[string][]string{"Quote": {"AAPL"}}})
	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpStopAndClear, Args: []interface{}{}})
	require.Eventually(t, func() bool { return srv.Sessions()[0].Stats().Cleared }, 3*time.Second, 10*time.Millisecond)

	srv.Broadcast([]*models.MEventRecord{quote("AAPL", 1, 5)})
	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpStopAndResume, Args: []interface{}{}})

	// the resume snapshot is the first data the session sees
	_, values := c.nextData(models.ChannelData)
	require.Len(t, values, len(models.QuoteSchema.Fields))
	assert.Equal(t, 5.0, values[2])
	assert.False(t, srv.Sessions()[0].Stats().Cleared)
}

func TestReplayPlaysHistoryAndPushesTime(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	start := time.Now().Add(-time.Minute).UnixMilli()
	srv.History.Add(candle("AAPL", start+10, 1, 1), candle("AAPL", start+20, 2, 2))

	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)
	c.send(models.ChannelSub, models.MSubMessage{
		AddTimeSeries: map[string][]models.MTimeSeriesSymbol{"Candle": {{EventSymbol: "AAPL", FromTime: start}}},
	})
	_, values := c.nextData(models.ChannelTimeSeriesData)
	require.Len(t, values, 2*len(models.CandleSchema.Fields))

	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpReplay, Args: []interface{}{start, 1000}})

	state := c.nextState()
	assert.Equal(t, float64(start), state["time"])

	_, values = c.nextData(models.ChannelTimeSeriesData)
	require.NotEmpty(t, values)
	assert.Equal(t, float64(start+10), values[1])

	later := c.nextState()
	assert.Greater(t, later["time"].(float64), float64(start))
	assert.True(t, srv.Sessions()[0].Stats().Replaying)
}

func TestOnDemandArgumentCoercion(t *testing.T) {
	ms, err := timeArg([]interface{}{"2024-03-06T12:00:00Z"}, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC).UnixMilli(), ms)

	ms, err = timeArg([]interface{}{float64(1234)}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), ms)

	_, err = timeArg([]interface{}{true}, 0)
	assert.Error(t, err)

	speed, err := floatArg([]interface{}{0, "2.5"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, speed)

	_, err = floatArg(nil, 0)
	assert.Error(t, err)
}

func TestSpeedArgRejectsNonFiniteAndNegative(t *testing.T) {
	for _, arg := range []interface{}{"NaN", "+Inf", "-Inf", -1.0, "-0.5"} {
		_, err := speedArg([]interface{}{arg}, 0)
		assert.Error(t, err, "%v", arg)
		assert.True(t, helpers.IsValidation(err), "%v", arg)
	}
	speed, err := speedArg([]interface{}{0.0}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, speed)
}

func TestReplayWithInvalidSpeedDoesNotStart(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)

	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpReplay, Args: []interface{}{1000, "NaN"}})
	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpReplay, Args: []interface{}{1000, -2}})
	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpSetSpeed, Args: []interface{}{"Inf"}})
	// control messages are handled in order; Cleared marks the bad ones as processed
	c.send(models.ChannelControl, models.MControlMessage{Op: models.OpStopAndClear, Args: []interface{}{}})
	require.Eventually(t, func() bool { return srv.Sessions()[0].Stats().Cleared }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, srv.Sessions()[0].Stats().Replaying)
}

// -----------------------------------------------------------------------------
// REST
// -----------------------------------------------------------------------------

func TestRESTEndpoints(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c, _ := dial(t, ts, "")
	waitSessions(t, srv, 1)
	c.send(models.ChannelSub, models.MSubMessage{Add: map[string][]string{"Quote": {"AAPL"}}})
	require.Eventually(t, func() bool {
		return srv.Sessions()[0].Stats().RegularSymbols == 1
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 1.0, health["connections"])

	resp, err = http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	var sessions []models.MSessionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	_ = resp.Body.Close()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].RegularSymbols)
	assert.GreaterOrEqual(t, sessions[0].MessagesRead, int64(1))
}
