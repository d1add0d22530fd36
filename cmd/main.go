package main

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rifa/internal/config"
	"rifa/internal/database"
	"rifa/internal/handlers"
	"rifa/internal/jobs/sweep"
	"rifa/internal/live"
	"rifa/internal/repository"
	"rifa/internal/services"
	"rifa/internal/storage"
)

func main() {
	ctx := context.Background()

	// 1. Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	defer logger.Init("rifa", cfg.App.Debug, false, io.Discard).Close()

	// 2. Connect to PostgreSQL
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// 3. Object storage for payment-proof images
	proofs, err := storage.NewProofStorage(&cfg.S3)
	if err != nil {
		log.Fatalf("Failed to create proof storage: %v", err)
	}
	if err := proofs.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure proof bucket: %v", err)
	}

	// 4. Wire the raffle core
	ticketRepo := repository.NewTicketRepository(db.Postgres)
	raffleService := services.NewRaffleService(ticketRepo, proofs, cfg.Raffle.TotalNumbers, cfg.Raffle.PaymentWindow)
	drawService := services.NewDrawService(ticketRepo)

	// 5. Live ticket mirror fed by LISTEN/NOTIFY
	mirror := live.NewMirror(ticketRepo)
	go func() {
		if err := mirror.Listen(ctx, cfg.Database.GetDatabaseURL()); err != nil && ctx.Err() == nil {
			logger.Errorf("Ticket mirror listener stopped: %v", err)
		}
	}()

	// 6. Background sweeper releasing unpaid numbers after the payment window
	sweepJob := sweep.New(raffleService)
	go sweepJob.Start(ctx, cfg.Raffle.SweepInterval)

	// 7. Set up the Gin router
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	httpHandler := handlers.NewHTTPHandler(raffleService, drawService, mirror,
		cfg.Raffle.PixKey, cfg.Raffle.AdminToken, cfg.Raffle.ReserveRPS, cfg.Raffle.ReserveBurst)
	httpHandler.RegisterPublicRoutes(r)
	httpHandler.RegisterAdminRoutes(r)

	// 8. Operational endpoints
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "rifa"})
	})
	r.GET("/health/db", func(c *gin.Context) {
		if err := db.Postgres.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "postgres unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "postgres": "connected"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 9. Run the server
	log.Printf("Server starting on http://%s", cfg.Server.GetServerAddr())
	if err := r.Run(cfg.Server.GetServerAddr()); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
