package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/rl1809/planet-auction/internal/adapter/handler"
	"github.com/rl1809/planet-auction/internal/adapter/storage"
	"github.com/rl1809/planet-auction/internal/config"
	"github.com/rl1809/planet-auction/internal/core/service"
	"github.com/rl1809/planet-auction/internal/jobs"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	config.SetupLogging(cfg.LogLevel)

	// Initialize store
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store, err)
	}
	log.WithField("store", cfg.Store).Info("connected to store")

	// Initialize Redis
	cache, closeCache, err := storage.OpenCache(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	if cache != nil {
		log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	}

	// Initialize services
	retryPolicy := cfg.RetryPolicy()
	auctions := service.NewAuctionService(store, service.Options{
		SamplePercent: cfg.SamplePercent,
		PricePolicy:   cfg.Policy(),
		Retry:         retryPolicy,
		MaxInFlight:   cfg.MaxInFlight,
		MaxShares:     cfg.MaxShares,
	})
	seeds := service.NewSeedService(store, retryPolicy)
	purchases := service.NewPurchaseService(auctions, seeds, cache)

	var sessions *handler.Sessions
	if cfg.SessionSecret != "" {
		sessions = handler.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	} else {
		log.Warn("SESSION_SECRET is not set; purchases register a new player every time")
	}

	// Scheduled auction rounds
	var scheduler *jobs.Scheduler
	if cfg.Schedule != "" {
		scheduler = jobs.NewScheduler(auctions, cache, cfg.ScheduledShares)
		if err := scheduler.Start(ctx, cfg.Schedule); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterAuctionServer(grpcServer, handler.NewGRPCHandler(purchases, auctions, sessions))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		log.Infof("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(purchases, seeds, auctions, cache, sessions)
	limiter := handler.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewCORS(cfg.CORSOrigins).Handler(limiter.Middleware(httpHandler.Routes())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Wait for a running scheduled round
	if scheduler != nil {
		scheduler.Stop()
	}

	// Close connections
	closeCache()
	store.Close()
	log.Info("connections closed")
}
