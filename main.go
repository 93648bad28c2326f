package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"gamewatch/internal/api"
	"gamewatch/internal/config"
	"gamewatch/internal/database"
	"gamewatch/internal/services"
	"gamewatch/internal/services/itad"
	"gamewatch/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()
	if cfg.ITADAPIKey == "" {
		log.Println("ITAD_API_KEY not set; price lookups will fail until it is configured")
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	st := store.New(db)
	itadClient := itad.NewClient(cfg.ITADAPIKey)
	itadClient.SetTimeout(cfg.FetchTimeout)

	hub := services.NewHub(log.New(os.Stdout, "[Hub] ", log.LstdFlags))
	notifier := services.MultiNotifier{
		services.NewLogNotifier(log.New(os.Stdout, "[Notify] ", log.LstdFlags)),
		hub,
	}

	scheduler := services.NewScheduler(
		st, itadClient, notifier,
		cfg.CheckInterval, cfg.FetchTimeout, cfg.MaxConcurrentChecks,
		log.New(os.Stdout, "[Scheduler] ", log.LstdFlags),
	)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	handler := api.SetupRoutes(r.Group("/api"), st, itadClient, hub)
	r.GET("/ws", handler.HandleWS)

	// Shut the scheduler down cleanly on SIGINT/SIGTERM.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down")
		scheduler.Stop()
		os.Exit(0)
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
