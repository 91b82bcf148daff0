package grpc_control

import (
	"context"
	"fmt"
	"sync"

	"market-feed/src/config"
	datasource "market-feed/src/data_source"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SourceService manages the data sources behind a push server. Changes are
// written back to ConfigPath when it is set.
type SourceService struct {
	Config         *config.Config
	DataSource     *datasource.MultiSourceManager
	ConfigPath     string
	Logger         *logger.Logger
	NetworkManager interfaces.INetworkManager
	OnAdded        func(interfaces.IFeedSource) // optional
	mu             sync.Mutex
}

// NewSourceService creates a new instance of SourceService
func NewSourceService(
	cfg *config.Config,
	ds *datasource.MultiSourceManager,
	cfgPath string,
	log *logger.Logger,
	netMgr interfaces.INetworkManager,
) *SourceService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SourceService{
		Config:         cfg,
		DataSource:     ds,
		ConfigPath:     cfgPath,
		Logger:         log,
		NetworkManager: netMgr,
	}
}

// -----------------------------------------------------------------------------

func (s *SourceService) ListSources(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []any
	for _, src := range s.DataSource.GetAllSources() {
		entry := map[string]any{
			"name":       src.Name(),
			"type":       datasource.SourceType(src),
			"isRealTime": src.IsRealTime(),
			"symbols":    []any{},
		}
		if cfg, ok := s.sourceConfig(src.Name()); ok {
			entry["symbols"] = anyList(cfg.Symbols)
		}
		if stats, ok := s.DataSource.Stats(src.Name()); ok {
			entry["batches"] = float64(stats.Batches)
			entry["events"] = float64(stats.Events)
			entry["lastEvent"] = float64(stats.LastEvent)
		}
		list = append(list, entry)
	}
	return structpb.NewStruct(map[string]any{"sources": list})
}

// -----------------------------------------------------------------------------

func (s *SourceService) AddSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, typ := stringArg(req, "name"), stringArg(req, "type")
	if name == "" || typ == "" {
		return nil, status.Error(codes.InvalidArgument, "name and type are required")
	}
	symbols, err := stringsArg(req, "symbols")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.DataSource.GetSource(name); err == nil {
		return nil, status.Errorf(codes.AlreadyExists, "source %s already exists", name)
	}

	sourceCfg := models.MSourceConfig{Name: name, Type: typ, Symbols: symbols}
	src, err := datasource.NewSource(s.Config.DataSource, sourceCfg, s.NetworkManager, s.Logger)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.OnAdded != nil {
		s.OnAdded(src)
	}

	// starts it when the manager is running
	if err := s.DataSource.AddSource(src); err != nil {
		s.Logger.Error("Failed to add source: %v", err)
		return result(false, fmt.Sprintf("Failed to add source: %v", err), "stopped")
	}

	s.Config.DataSource.Sources = append(s.Config.DataSource.Sources, sourceCfg)
	s.persist()
	return result(true, fmt.Sprintf("Added source %s", name), "running")
}

// -----------------------------------------------------------------------------

func (s *SourceService) RemoveSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringArg(req, "name")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.DataSource.RemoveSource(name); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}

	kept := []models.MSourceConfig{}
	for _, src := range s.Config.DataSource.Sources {
		if src.Name != name {
			kept = append(kept, src)
		}
	}
	s.Config.DataSource.Sources = kept
	s.persist()
	return result(true, fmt.Sprintf("Removed source %s", name), "removed")
}

// -----------------------------------------------------------------------------

// UpdateSymbols updates the symbol list for a specific source
func (s *SourceService) UpdateSymbols(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringArg(req, "sourceName")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "sourceName is required")
	}
	symbols, err := stringsArg(req, "symbols")
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, status.Error(codes.InvalidArgument, "symbols list cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, err := s.DataSource.GetSource(name)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "source %s not found", name)
	}
	if err := source.UpdateSymbols(symbols); err != nil {
		s.Logger.Error("gRPC: Failed to update running source: %v", err)
		return result(false, fmt.Sprintf("Failed to update running source: %v", err), "running")
	}

	for i, src := range s.Config.DataSource.Sources {
		if src.Name == name {
			s.Config.DataSource.Sources[i].Symbols = symbols
			s.persist()
			break
		}
	}

	s.Logger.Info("gRPC: UpdateSymbols success for %s. Count: %d", name, len(symbols))
	resp, err := result(true, fmt.Sprintf("Successfully updated %s with %d symbols", name, len(symbols)), "running")
	if err == nil {
		resp.Fields["symbolCount"] = structpb.NewNumberValue(float64(len(symbols)))
	}
	return resp, err
}

// -----------------------------------------------------------------------------

func (s *SourceService) sourceConfig(name string) (models.MSourceConfig, bool) {
	for _, src := range s.Config.DataSource.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return models.MSourceConfig{}, false
}

func (s *SourceService) persist() {
	if s.ConfigPath == "" {
		return
	}
	if err := s.Config.Save(s.ConfigPath); err != nil {
		s.Logger.Error("Failed to save config %s: %v", s.ConfigPath, err)
	}
}

func result(success bool, message, state string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"success":      success,
		"message":      message,
		"currentState": state,
	})
}

func anyList(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
