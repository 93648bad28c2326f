// Command watcher runs the watch scheduler without the HTTP API, for
// deployments that keep evaluation separate from the command front-end.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gamewatch/internal/config"
	"gamewatch/internal/database"
	"gamewatch/internal/services"
	"gamewatch/internal/services/itad"
	"gamewatch/internal/store"
)

var (
	interval = flag.Duration("interval", 0, "due-scan interval (default from CHECK_INTERVAL)")
	dbURL    = flag.String("db", "", "database URL (default from DATABASE_URL)")
	logFile  = flag.String("log", "", "log file path (default stdout)")
	once     = flag.Bool("once", false, "run a single due-scan and exit")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()
	if *interval > 0 {
		cfg.CheckInterval = *interval
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	logWriter := os.Stdout
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("cannot open log file: %v", err)
		}
		defer f.Close()
		logWriter = f
	}
	logger := log.New(logWriter, "[Watcher] ", log.LstdFlags)

	if cfg.ITADAPIKey == "" {
		logger.Fatal("ITAD_API_KEY is required")
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database initialization failed: %v", err)
	}

	st := store.New(db)
	itadClient := itad.NewClient(cfg.ITADAPIKey)
	itadClient.SetTimeout(cfg.FetchTimeout)

	notifier := services.NewLogNotifier(logger)
	scheduler := services.NewScheduler(
		st, itadClient, notifier,
		cfg.CheckInterval, cfg.FetchTimeout, cfg.MaxConcurrentChecks,
		logger,
	)

	if *once {
		if err := scheduler.RunOnce(context.Background()); err != nil {
			logger.Fatalf("scan failed: %v", err)
		}
		stats := scheduler.Stats()
		logger.Printf("done: %d evaluated, %d notified, %d unavailable",
			stats.Evaluations, stats.Notifications, stats.Unavailable)
		return
	}

	scheduler.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Println("shutting down")

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Println("shutdown timed out")
	}
}
