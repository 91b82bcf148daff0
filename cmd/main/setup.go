package main

import (
	"fmt"
	"net"
	"strconv"

	"market-feed/src/config"
	datasource "market-feed/src/data_source"
	"market-feed/src/grpc_control"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/network"
	"market-feed/src/storage"

	"google.golang.org/grpc"
)

// -----------------------------------------------------------------------------

// loadConfig reads --config, or returns the defaults when it is empty.
func loadConfig() (*config.Config, error) {
	conf := config.Default()
	if flagConfig != "" {
		var err error
		if conf, err = config.NewConfig(flagConfig); err != nil {
			return nil, err
		}
	}
	if flagLogLevel != "" {
		conf.LogLevel = flagLogLevel
	}
	return conf, conf.Validate()
}

// -----------------------------------------------------------------------------

// setupStore opens the event recorder, or returns nil when storage is off.
func setupStore(conf *config.Config, appLogger *logger.Logger) (interfaces.IEventStore, error) {
	if !conf.Storage.Enabled {
		appLogger.Info("Event recording disabled")
		return nil, nil
	}
	store, err := storage.New(conf.Storage, appLogger.Named("storage"))
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", conf.Storage.DBType, err)
	}
	return store, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(conf *config.Config, appLogger *logger.Logger) interfaces.INetworkManager {
	return network.NewHTTPNetworkManager(conf.Network, appLogger.Named("network"))
}

// -----------------------------------------------------------------------------

// setupDataSources initializes data sources and wraps them in a manager
func setupDataSources(conf *config.Config, appLogger *logger.Logger, netMgr interfaces.INetworkManager) (*datasource.MultiSourceManager, error) {
	appLogger.Info("Initializing data sources...")
	var sources []interfaces.IFeedSource

	for _, srcCfg := range conf.DataSource.Sources {
		src, err := datasource.NewSource(conf.DataSource, srcCfg, netMgr, appLogger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		appLogger.Info("Added source: %s (%s) with %d symbols (IsRealTime: %v)",
			srcCfg.Name, srcCfg.Type, len(srcCfg.Symbols), src.IsRealTime())
	}
	if len(sources) == 0 {
		appLogger.Warning("No data sources configured; the server only replays what it is sent")
	}

	return datasource.NewMultiSourceManager(sources, appLogger.Named("sources")), nil
}

// -----------------------------------------------------------------------------

// startGRPC serves the control services registered by register in the
// background. The caller stops the returned server.
func startGRPC(conf *config.Config, appLogger *logger.Logger, register func(*grpc.Server)) (*grpc.Server, error) {
	addr := net.JoinHostPort(conf.Grpc.Host, strconv.Itoa(conf.Grpc.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
	}

	grpcLogger := appLogger.Named("grpc")
	srv := grpc_control.NewServer(grpcLogger)
	register(srv)

	go func() {
		grpcLogger.Info("Starting gRPC control server on %s", addr)
		if err := srv.Serve(lis); err != nil {
			grpcLogger.Error("gRPC server stopped: %v", err)
		}
	}()
	return srv, nil
}
