package feed

import (
	"encoding/json"
	"errors"
	"testing"

	"market-feed/src/interfaces"
	"market-feed/src/models"

	"github.com/stretchr/testify/require"
)

type jsonPayload []byte

func (p jsonPayload) Decode(v interface{}) error { return json.Unmarshal(p, v) }

type published struct {
	channel string
	data    interface{}
}

// fakeTransport records what the feed publishes; tests flip the connection by hand.
type fakeTransport struct {
	handler      interfaces.ITransportHandler
	connected    bool
	connectCalls int
	url          string
	token        string
	published    []published
}

func (t *fakeTransport) SetHandler(h interfaces.ITransportHandler) { t.handler = h }

func (t *fakeTransport) Connect(url string) error {
	t.url = url
	t.connectCalls++
	return nil
}

func (t *fakeTransport) ConnectIfNeeded() {
	if t.connectCalls == 0 {
		t.connectCalls++
	}
}

func (t *fakeTransport) Disconnect() { t.setConnected(false) }

func (t *fakeTransport) IsConnected() bool { return t.connected }

func (t *fakeTransport) Publish(channel string, data interface{}) error {
	if !t.connected {
		return errors.New("not connected")
	}
	t.published = append(t.published, published{channel, data})
	return nil
}

func (t *fakeTransport) SetAuthToken(token string) { t.token = token }

func (t *fakeTransport) setConnected(c bool) {
	t.connected = c
	t.handler.OnConnectedChange(c)
}

func (t *fakeTransport) deliver(tb testing.TB, channel string, v interface{}) {
	raw, err := json.Marshal(v)
	require.NoError(tb, err)
	t.handler.OnMessage(channel, jsonPayload(raw))
}

// take returns and forgets everything published so far.
func (t *fakeTransport) take() []published {
	out := t.published
	t.published = nil
	return out
}

func subMessages(list []published) []*models.MSubMessage {
	var out []*models.MSubMessage
	for _, p := range list {
		if p.channel == models.ChannelSub {
			out = append(out, p.data.(*models.MSubMessage))
		}
	}
	return out
}

func controlMessages(list []published) []models.MControlMessage {
	var out []models.MControlMessage
	for _, p := range list {
		if p.channel == models.ChannelControl {
			out = append(out, p.data.(models.MControlMessage))
		}
	}
	return out
}

// quotes builds an inline-schema data batch of (symbol, price) rows.
func quotes(rows ...interface{}) []interface{} {
	return []interface{}{
		[]interface{}{"Quote", []interface{}{"eventSymbol", "price"}},
		rows,
	}
}

// candles builds an inline-schema time-series batch of (symbol, time, index, close) rows.
func candles(rows ...interface{}) []interface{} {
	return []interface{}{
		[]interface{}{"Candle", []interface{}{"eventSymbol", "time", "index", "close"}},
		rows,
	}
}
