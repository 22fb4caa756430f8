package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/sannti97/superstreamer/internal/config"
	"github.com/sannti97/superstreamer/internal/executor"
	"github.com/sannti97/superstreamer/internal/httpapi"
	"github.com/sannti97/superstreamer/internal/jobs"
	"github.com/sannti97/superstreamer/internal/persistence"
	"github.com/sannti97/superstreamer/internal/service"
	"github.com/sannti97/superstreamer/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		stdlog.Fatal("Failed to load configuration:", err)
	}

	level := log.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		fileLogger, err := log.InitFileLogger(cfg.Log.File, level)
		if err != nil {
			stdlog.Fatal("Failed to open log file:", err)
		}
		defer fileLogger.Close()
	} else {
		log.InitLogger(level)
	}

	repo, err := persistence.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		log.Fatal("Failed to open job database: %v", err)
	}
	defer repo.Close()

	store := jobs.NewStore(repo, cfg.Store.MaxJobs)
	transcodeQ := jobs.NewQueue(jobs.StageTranscode, cfg.Workers.TranscodeConcurrency, store,
		jobs.WithHeartbeatInterval(cfg.Workers.HeartbeatInterval))
	packageQ := jobs.NewQueue(jobs.StagePackage, cfg.Workers.PackageConcurrency, store,
		jobs.WithHeartbeatInterval(cfg.Workers.HeartbeatInterval))

	transcodeCmd, err := executor.NewCommand(cfg.Executors.TranscodeCmd)
	if err != nil {
		log.Fatal("Invalid transcode executor command: %v", err)
	}
	packageCmd, err := executor.NewCommand(cfg.Executors.PackageCmd)
	if err != nil {
		log.Fatal("Invalid package executor command: %v", err)
	}

	orc := service.New(*cfg, store, transcodeQ, packageQ, cron.New())
	if err := orc.Start(transcodeCmd.Executor(), packageCmd.Executor()); err != nil {
		log.Fatal("Failed to start orchestrator: %v", err)
	}

	server := httpapi.NewServer(orc, httpapi.WithUI(cfg.UI.StaticDir, cfg.UI.Enabled()))
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	orc.Stop()
}
