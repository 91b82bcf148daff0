package grpc_control

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls both control services over one connection.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects lazily to target (host:port).
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Call invokes service/method with args and returns the reply as a map.
func (c *Client) Call(ctx context.Context, service, method string, args map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// -----------------------------------------------------------------------------

// Replay accepts from as a time.Time, epoch millis or a time string.
func (c *Client) Replay(ctx context.Context, from any, speed float64) (map[string]any, error) {
	if t, ok := from.(time.Time); ok {
		from = float64(t.UnixMilli())
	}
	return c.Call(ctx, FeedControlService, "Replay", map[string]any{"from": from, "speed": speed})
}

func (c *Client) SetSpeed(ctx context.Context, speed float64) (map[string]any, error) {
	return c.Call(ctx, FeedControlService, "SetSpeed", map[string]any{"speed": speed})
}

func (c *Client) Pause(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, FeedControlService, "Pause", nil)
}

func (c *Client) StopAndResume(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, FeedControlService, "StopAndResume", nil)
}

func (c *Client) StopAndClear(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, FeedControlService, "StopAndClear", nil)
}

func (c *Client) State(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, FeedControlService, "GetState", nil)
}

func (c *Client) SetSymbols(ctx context.Context, symbols []string) (map[string]any, error) {
	return c.Call(ctx, FeedControlService, "SetSymbols", map[string]any{"symbols": anyList(symbols)})
}

// -----------------------------------------------------------------------------

func (c *Client) ListSources(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, SourceControlService, "ListSources", nil)
}

func (c *Client) AddSource(ctx context.Context, name, typ string, symbols []string) (map[string]any, error) {
	return c.Call(ctx, SourceControlService, "AddSource", map[string]any{
		"name": name, "type": typ, "symbols": anyList(symbols),
	})
}

func (c *Client) RemoveSource(ctx context.Context, name string) (map[string]any, error) {
	return c.Call(ctx, SourceControlService, "RemoveSource", map[string]any{"name": name})
}

func (c *Client) UpdateSymbols(ctx context.Context, sourceName string, symbols []string) (map[string]any, error) {
	return c.Call(ctx, SourceControlService, "UpdateSymbols", map[string]any{
		"sourceName": sourceName, "symbols": anyList(symbols),
	})
}
