package grpc_control

import (
	"context"
	"time"

	"market-feed/src/helpers"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlService exposes the replay controls of a running feed.
type ControlService struct {
	Feed   interfaces.IFeedControl
	Logger *logger.Logger
}

// NewControlService creates a new instance of ControlService
func NewControlService(feed interfaces.IFeedControl, log *logger.Logger) *ControlService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ControlService{Feed: feed, Logger: log}
}

// -----------------------------------------------------------------------------

// Replay starts a replay from "from" (epoch millis or a time string) at
// "speed" (default 1).
func (s *ControlService) Replay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if supported := s.Feed.State().ReplaySupported; supported != nil && !*supported {
		return nil, status.Error(codes.FailedPrecondition, "server does not support replay")
	}

	fromValue, ok := req.GetFields()["from"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "from is required")
	}
	from, err := helpers.ParseTime(fromValue.AsInterface())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad from: %v", err)
	}
	speed := 1.0
	if v, ok := req.GetFields()["speed"]; ok {
		if speed, err = numberArg(v); err != nil {
			return nil, err
		}
	}

	s.Logger.Info("gRPC: Replay from %d at speed %g", from, speed)
	s.Feed.Replay(time.UnixMilli(from).UTC(), speed)
	return s.state(), nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) SetSpeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	v, ok := req.GetFields()["speed"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "speed is required")
	}
	speed, err := numberArg(v)
	if err != nil {
		return nil, err
	}
	s.Feed.SetSpeed(speed)
	return s.state(), nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) Pause(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.Feed.Pause()
	return s.state(), nil
}

func (s *ControlService) StopAndResume(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.Feed.StopAndResume()
	return s.state(), nil
}

func (s *ControlService) StopAndClear(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.Feed.StopAndClear()
	return s.state(), nil
}

func (s *ControlService) GetState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.state(), nil
}

// -----------------------------------------------------------------------------

// SetSymbols replaces the symbols of every observed subscription
func (s *ControlService) SetSymbols(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	symbols, err := stringsArg(req, "symbols")
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, status.Error(codes.InvalidArgument, "symbols list cannot be empty")
	}
	if err := s.Feed.SetSymbols(ctx, symbols); err != nil {
		s.Logger.Error("gRPC: SetSymbols failed: %v", err)
		return nil, status.Errorf(codes.Internal, "set symbols: %v", err)
	}
	s.Logger.Info("gRPC: SetSymbols success. Count: %d", len(symbols))
	return s.state(), nil
}

// -----------------------------------------------------------------------------

// state is called right after a control call, so it reflects what the feed
// has applied so far. Control calls are asynchronous.
func (s *ControlService) state() *structpb.Struct {
	return StateStruct(s.Feed.State())
}

// StateStruct renders a feed state for the wire. replaySupported is absent
// while unknown.
func StateStruct(st models.MFeedState) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"connected": structpb.NewBoolValue(st.Connected),
		"replay":    structpb.NewBoolValue(st.Replay),
		"clear":     structpb.NewBoolValue(st.Clear),
		"time":      structpb.NewNumberValue(float64(st.Time)),
		"speed":     structpb.NewNumberValue(st.Speed),
		"mode":      structpb.NewStringValue(string(st.Mode())),
	}
	if st.ReplaySupported != nil {
		fields["replaySupported"] = structpb.NewBoolValue(*st.ReplaySupported)
	}
	return &structpb.Struct{Fields: fields}
}

// -----------------------------------------------------------------------------

func numberArg(v *structpb.Value) (float64, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "expected a number")
	}
	return n.NumberValue, nil
}

func stringArg(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func stringsArg(req *structpb.Struct, key string) ([]string, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list", key)
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		str, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s must hold strings", key)
		}
		out = append(out, str.StringValue)
	}
	return out, nil
}
