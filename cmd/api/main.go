package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"moveflow/auth"
	"moveflow/db"
	"moveflow/dispatch"
	"moveflow/httpapi"
	"moveflow/move"
	"moveflow/mover"
	"moveflow/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	notifyRepo := notify.NewRepository(pool)

	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	moveRepo := move.NewRepository(pool)
	moveService := move.NewService(pool, moveRepo, notifyRepo)
	moverRepo := mover.NewRepository(pool)
	moverService := mover.NewService(moverRepo)

	offerRepo := dispatch.NewRequestRepository(pool)
	engine := dispatch.NewEngine(moveRepo, dispatch.NewMatcher(moverRepo), offerRepo).
		WithOfferTTL(envDuration("OFFER_TTL_SECONDS", dispatch.DefaultOfferTTL)).
		WithRadiusKm(envFloat("DISPATCH_RADIUS_KM", dispatch.DefaultRadiusKm)).
		WithMaxResults(envInt("DISPATCH_MAX_RESULTS", dispatch.DefaultMaxResults))
	arbiter := dispatch.NewArbitrator(offerRepo, moveService)

	dispatcher := notify.NewDispatcher(pool, notifyRepo, notify.LogSink{})
	go dispatcher.Run(ctx)

	server := httpapi.NewServer(authService, moveService, moverService, engine, arbiter, offerRepo)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %v", err)
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		log.Printf("ignoring invalid %s=%q", key, raw)
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		log.Printf("ignoring invalid %s=%q", key, raw)
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("ignoring invalid %s=%q", key, raw)
		return fallback
	}
	return v
}
