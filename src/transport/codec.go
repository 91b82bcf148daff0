package transport

import (
	"encoding/json"
	"fmt"
	"reflect"

	"market-feed/src/helpers"
	"market-feed/src/interfaces"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Codec frames {channel, data} envelopes for the websocket. The client and the
// push server share it, so both sides must be configured with the same name.
type Codec interface {
	Name() string
	// FrameType is the websocket message type carrying encoded envelopes.
	FrameType() int
	Encode(channel string, data interface{}) ([]byte, error)
	// Decode splits a frame into its channel and a payload decoded on demand.
	Decode(frame []byte) (string, interfaces.IPayload, error)
}

// NewCodec returns the codec registered under name ("json" or "cbor").
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "cbor":
		return newCBORCodec()
	default:
		return nil, helpers.NewConfigurationError(fmt.Sprintf("unknown codec %q", name), nil)
	}
}

// -----------------------------------------------------------------------------
// JSON
// -----------------------------------------------------------------------------

type jsonCodec struct{}

type jsonEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(channel string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, helpers.NewDecodeError("encode "+channel, err)
	}
	return json.Marshal(jsonEnvelope{Channel: channel, Data: raw})
}

func (jsonCodec) Decode(frame []byte) (string, interfaces.IPayload, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, helpers.NewDecodeError("bad json envelope", err)
	}
	return env.Channel, jsonPayload(env.Data), nil
}

type jsonPayload []byte

func (p jsonPayload) Decode(v interface{}) error {
	if len(p) == 0 {
		return helpers.NewDecodeError("empty payload", nil)
	}
	if err := json.Unmarshal(p, v); err != nil {
		return helpers.NewDecodeError("bad json payload", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// CBOR
// -----------------------------------------------------------------------------

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborEnvelope struct {
	Channel string          `json:"channel"`
	Data    cbor.RawMessage `json:"data,omitempty"`
}

func newCBORCodec() (*cborCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, helpers.NewConfigurationError("cbor encoder", err)
	}
	// untyped maps come back keyed by string, like encoding/json
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		return nil, helpers.NewConfigurationError("cbor decoder", err)
	}
	return &cborCodec{enc: enc, dec: dec}, nil
}

func (c *cborCodec) Name() string   { return "cbor" }
func (c *cborCodec) FrameType() int { return websocket.BinaryMessage }

func (c *cborCodec) Encode(channel string, data interface{}) ([]byte, error) {
	raw, err := c.enc.Marshal(data)
	if err != nil {
		return nil, helpers.NewDecodeError("encode "+channel, err)
	}
	return c.enc.Marshal(cborEnvelope{Channel: channel, Data: raw})
}

func (c *cborCodec) Decode(frame []byte) (string, interfaces.IPayload, error) {
	var env cborEnvelope
	if err := c.dec.Unmarshal(frame, &env); err != nil {
		return "", nil, helpers.NewDecodeError("bad cbor envelope", err)
	}
	return env.Channel, cborPayload{dec: c.dec, data: env.Data}, nil
}

type cborPayload struct {
	dec  cbor.DecMode
	data []byte
}

func (p cborPayload) Decode(v interface{}) error {
	if len(p.data) == 0 {
		return helpers.NewDecodeError("empty payload", nil)
	}
	if err := p.dec.Unmarshal(p.data, v); err != nil {
		return helpers.NewDecodeError("bad cbor payload", err)
	}
	return nil
}
