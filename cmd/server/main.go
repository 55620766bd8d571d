/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load configuration (app.env / environment)
  2. Build the logger
  3. Open the SQLite store
  4. Wire engines and the API handler
  5. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database connection
  4. Exit

SEE ALSO:
  - api/server.go: router configuration
  - config/config.go: configuration keys and defaults
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/care-engine/api"
	"github.com/warp/care-engine/balances"
	"github.com/warp/care-engine/billing"
	"github.com/warp/care-engine/config"
	"github.com/warp/care-engine/core"
	"github.com/warp/care-engine/logger"
	"github.com/warp/care-engine/pay"
	"github.com/warp/care-engine/schedule"
	"github.com/warp/care-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	calendar := core.NewCalendar()
	scheduleEngine := schedule.NewEngine(store, store)
	payEngine := pay.NewEngine(calendar, pay.CompanyConfig{})
	builder := billing.NewBuilder(store)
	aggregator := billing.NewAggregator(store, store, store, store)
	balanceEngine := balances.NewEngine(store, store)

	handler := api.NewHandler(store, scheduleEngine, payEngine, builder, aggregator, balanceEngine, cfg.Billing, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting care engine")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}
