package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-feed/src/analysis"
	"market-feed/src/config"
	"market-feed/src/feed"
	"market-feed/src/grpc_control"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/observer"
	"market-feed/src/transport"
	"market-feed/src/utils"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const cleanupInterval = time.Hour

func observeCmd() *cobra.Command {
	var (
		reconnect      time.Duration
		reportInterval time.Duration
		symbolsFlag    []string
		fromFlag       string
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Subscribe to a push feed, record events and log summaries",
		Long: `Connect to the feed at feed.url and subscribe to observe.types and
observe.time_series_types for observe.symbols. Received events are kept
in memory, recorded to the configured store when storage.enabled is set,
and summarized every --report-interval. With grpc.enabled the feed can be
replayed, paused and resubscribed through "market-feed ctl".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			if len(symbolsFlag) > 0 {
				conf.Observe.Symbols = symbolsFlag
			}
			if fromFlag != "" {
				conf.Observe.FromTime = fromFlag
			}
			return runObserve(cmd.Context(), conf, reconnect, reportInterval)
		},
	}
	cmd.Flags().DurationVar(&reconnect, "reconnect", 5*time.Second, "how often a dropped feed is reconnected")
	cmd.Flags().DurationVar(&reportInterval, "report-interval", time.Minute, "how often candle summaries are logged")
	cmd.Flags().StringSliceVar(&symbolsFlag, "symbols", nil, "override observe.symbols")
	cmd.Flags().StringVar(&fromFlag, "from", "", "override observe.from_time (e.g. -2h or an RFC 3339 time)")
	return cmd
}

// -----------------------------------------------------------------------------

func runObserve(parent context.Context, conf *config.Config, reconnect, reportInterval time.Duration) error {
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	defer appLogger.Sync()

	session, err := transport.NewWebSocketSession(conf.Feed, appLogger.Named("transport"))
	if err != nil {
		return err
	}
	f := feed.New(session, appLogger.Named("feed"))
	if conf.Feed.MaxSendMessageSize > 0 {
		f.MaxSendMessageSize(conf.Feed.MaxSendMessageSize)
	}
	if conf.Feed.AuthToken != "" {
		f.SetAuthToken(conf.Feed.AuthToken)
	}

	store, err := setupStore(conf, appLogger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the loop outlives ctx so Stop can drain the recorder on it
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		if err := f.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			appLogger.Error("Feed loop stopped: %v", err)
		}
	}()

	history := utils.NewHistoryStore(conf.Server.HistorySize, 0, appLogger.Named("history"))
	obs := observer.New(f, conf.Observe, store, history, appLogger.Named("observer"))
	if conf.DataSource.CandlePeriodSeconds > 0 {
		obs.CandlePeriod = analysis.PeriodAttribute(conf.DataSource.CandlePeriodSeconds)
	}
	if err := obs.Start(ctx); err != nil {
		return err
	}
	defer obs.Stop()

	var grpcSrv *grpc.Server
	if conf.Grpc.Enabled {
		controlService := grpc_control.NewControlService(obs, appLogger.Named("control"))
		if grpcSrv, err = startGRPC(conf, appLogger, func(s *grpc.Server) {
			grpc_control.RegisterFeedControlServer(s, controlService)
		}); err != nil {
			return err
		}
		defer grpcSrv.GracefulStop()
	}

	if err := obs.KeepConnected(ctx, conf.Feed.URL, reconnect); err != nil {
		return err
	}
	go obs.Report(ctx, reportInterval)
	if store != nil {
		go cleanupLoop(ctx, store, appLogger)
	}

	appLogger.Info("Observing feed at %s", conf.Feed.URL)
	<-ctx.Done()
	appLogger.Info("Shutting down...")
	f.Disconnect()
	return nil
}

// cleanupLoop applies the retention policy once at startup and then hourly.
func cleanupLoop(ctx context.Context, store interfaces.IEventStore, appLogger *logger.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		if err := store.CleanupOldData(ctx); err != nil && ctx.Err() == nil {
			appLogger.Warning("Retention cleanup failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
