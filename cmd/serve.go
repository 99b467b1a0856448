package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/faceinbox/internal/inbox"
	"github.com/kozaktomas/faceinbox/internal/mqtt"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"github.com/kozaktomas/faceinbox/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the inbox and serve the API",
	Long: `Start the inbox watcher, the MQTT publisher and the HTTP API.

Images written to INBOX_PATH are recognized, published and deleted. The API
manages persons, history, settings and retraining. Runs until SIGINT or
SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().String("inbox", "", "Directory to watch (overrides INBOX_PATH)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if dir := mustGetString(cmd, "inbox"); dir != "" {
		cfg.Inbox.Path = dir
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := openApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	publisher := mqtt.New(a.settings.Get().MQTT, cfg.MQTT.ClientID, cfg.MQTT.QueueSize, logger, a.metrics)
	a.settings.Subscribe(func(ctx context.Context, prev, next settings.Settings) {
		if next.MQTT != prev.MQTT {
			publisher.Reconfigure(next.MQTT)
		}
		if next.MaxImagesPerPerson < prev.MaxImagesPerPerson {
			evicted, err := a.gallery.EnforceCap(ctx, next.MaxImagesPerPerson)
			if err != nil {
				logger.Error("failed to apply the lowered image cap", zap.Error(err))
				return
			}
			logger.Info("image cap lowered", zap.Int("max_images_per_person", next.MaxImagesPerPerson),
				zap.Int("evicted", evicted))
		}
	})

	watcher := inbox.New(inbox.Config{
		Dir:            cfg.Inbox.Path,
		Workers:        cfg.Inbox.Workers,
		QueueSize:      cfg.Inbox.QueueSize,
		StabilizeDelay: cfg.Inbox.StabilizeDelay,
		MaxFileBytes:   cfg.Inbox.MaxFileBytes,
	}, a.engine, publisher, a.metrics, logger)

	server := web.NewServer(cfg.Web, web.Deps{
		Gallery:  a.gallery,
		Engine:   a.engine,
		History:  a.history,
		Settings: a.settings,
		Retrain:  a.retrain,
		MQTT:     publisher,
		Tiers:    cfg.Tiers,
		Gatherer: reg,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		a.retrain.Cancel()
		err := server.Shutdown(shutdownCtx)
		a.retrain.Wait()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
