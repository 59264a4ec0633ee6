package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nextcompete-api/config"
	"nextcompete-api/services"
)

func main() {
	limit := flag.Int("limit", 100, "maximum number of cleanup jobs per pass")
	loop := flag.Bool("loop", false, "keep running and reconcile every interval")
	interval := flag.Duration("interval", 0, "interval between passes with -loop (default CLEANUP_INTERVAL)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	settings := config.LoadSettings()
	logFile, _ := config.InitLogging(settings.IsRelease())
	if logFile != nil {
		defer logFile.Close()
	}

	config.InitDB(settings)
	store, err := services.NewObjectStore(settings)
	if err != nil {
		config.Log.WithError(err).Fatal("storage init failed")
	}
	assets := services.NewAssetService(config.DB, store, settings)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *loop {
		every := *interval
		if every <= 0 {
			every = settings.CleanupInterval
		}
		if every <= 0 {
			every = time.Minute
		}
		assets.RunReconciler(ctx, every, *limit)
		return
	}

	report, err := assets.ReconcileStorage(ctx, *limit)
	if err != nil {
		config.Log.WithError(err).Fatal("reconcile failed")
	}
	config.Log.WithField("processed", report.Processed).
		WithField("done", report.Done).
		WithField("retrying", report.Retrying).
		WithField("failed", report.Failed).
		Info("reconcile finished")
}
