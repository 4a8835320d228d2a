package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"divflow/config"
	"divflow/feed"
	"divflow/logger"
	"divflow/scheduler"
	"divflow/server"
	"divflow/store"
	"divflow/syncer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	once := flag.Bool("once", false, "Run a single sync and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service":     cfg.Divflow.Name,
		"version":     cfg.Divflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting divflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.DashboardName,
		)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	table, err := store.New(cfg)
	if err != nil {
		log.WithError(err).Error("failed to create store")
		os.Exit(1)
	}

	feedClient := feed.NewClient(cfg)
	sync := syncer.New(cfg, table, feedClient)

	if *once {
		result, err := sync.Run(ctx)
		if err != nil {
			log.WithError(err).Error("sync failed")
			os.Exit(1)
		}
		log.WithFields(logger.Fields{
			"run_id":     result.RunID,
			"up_to_date": result.UpToDate,
			"written":    result.Written,
			"rejected":   result.Rejected,
		}).Info("sync finished")
		return
	}

	sched := scheduler.New(cfg, sync)
	if err := sched.Start(); err != nil {
		log.WithError(err).Error("failed to start scheduler")
		os.Exit(1)
	}

	if cfg.Server.Enabled {
		srv := server.New(cfg, table, sync)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
				log.WithError(err).Error("http server failed")
				cancel()
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()
	sched.Stop()

	log.Info("divflow stopped")
}
