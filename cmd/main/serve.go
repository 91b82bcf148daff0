package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"market-feed/src/config"
	datasource "market-feed/src/data_source"
	"market-feed/src/grpc_control"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
	"market-feed/src/server"
	"market-feed/src/utils"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const memoryCheckInterval = time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the push server fed by the configured sources",
		Long: `Run the push server.

Every configured source (synthetic random walk or Yahoo chart polling)
pushes Quote, Trade and Candle events into the server, which keeps them
in per-symbol history and delivers them to subscribed feed sessions on
/feed. With grpc.enabled the sources can be managed remotely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), conf)
		},
	}
}

// -----------------------------------------------------------------------------

func runServe(parent context.Context, conf *config.Config) error {
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	defer appLogger.Sync()

	netMgr := setupNetwork(conf, appLogger)
	multiSource, err := setupDataSources(conf, appLogger, netMgr)
	if err != nil {
		return err
	}

	historySize := conf.Server.HistorySize
	if historySize <= 0 {
		historySize = utils.CalculateMaxDataPoints(conf.Storage.RetentionDays, conf.DataSource.CandlePeriodSeconds)
	}
	history := utils.NewHistoryStore(historySize, 0, appLogger.Named("history"))
	srv, err := server.NewPushServer(conf.MConfig, history, appLogger.Named("server"))
	if err != nil {
		return err
	}
	for _, schema := range multiSource.Schemas() {
		srv.RegisterSchema(schema)
	}

	// 1. Push server
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 2. gRPC source control
	var grpcSrv *grpc.Server
	if conf.Grpc.Enabled {
		sourceService := grpc_control.NewSourceService(conf, multiSource, flagConfig, appLogger.Named("control"), netMgr)
		sourceService.OnAdded = func(src interfaces.IFeedSource) {
			for _, schema := range src.Schemas() {
				srv.RegisterSchema(schema)
			}
		}
		if grpcSrv, err = startGRPC(conf, appLogger, func(s *grpc.Server) {
			grpc_control.RegisterSourceControlServer(s, sourceService)
		}); err != nil {
			_ = srv.Stop()
			return err
		}
	}

	// 3. Sources -> server
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	updatesChan := make(chan []*models.MEventRecord, 500)
	if err := multiSource.Start(ctx, updatesChan, &wg); err != nil {
		_ = srv.Stop()
		return err
	}
	go datasource.Pump(ctx, updatesChan, srv)
	go watchMemory(ctx, history)

	appLogger.Info("Serving feed on %s:%d (replay supported: %v)", conf.Server.Host, conf.Server.Port, conf.Server.ReplaySupported)

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down...")
	case err = <-serverErr:
		appLogger.Error("Server failed: %v", err)
	}

	_ = multiSource.Stop()
	wg.Wait()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if stopErr := srv.Stop(); stopErr != nil {
		appLogger.Warning("Server stop: %v", stopErr)
	}
	appLogger.Info("Shutdown complete.")
	return err
}

// watchMemory trims history when the process grows past its limit.
func watchMemory(ctx context.Context, history *utils.HistoryStore) {
	ticker := time.NewTicker(memoryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			history.CheckMemoryLimits()
		}
	}
}
