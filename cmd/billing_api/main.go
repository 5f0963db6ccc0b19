// Billing API aggregates stored meter rows into billing runs and serves them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/NotCoffee418/edge_billing/pkg/aggregator"
	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/billingapi"
	"github.com/NotCoffee418/edge_billing/pkg/config"
	"github.com/NotCoffee418/edge_billing/pkg/meterdb"
	"github.com/NotCoffee418/edge_billing/pkg/metrics"
	"github.com/NotCoffee418/edge_billing/pkg/pathing"
)

func main() {
	if err := pathing.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	// Load config
	if err := config.LoadBillingAPIConfig(); err != nil {
		log.Fatalf("Failed to load billing API config: %v", err)
	}
	cfg := config.ActiveBillingAPIConfig
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := meterdb.Open(pathing.GetMeterDbPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := aggregator.NewService(
		store,
		cfg.EdgeList(),
		billing.WithLeakageTolerance(cfg.LeakageToleranceKWH),
		time.Duration(cfg.RetentionDays)*24*time.Hour,
	)
	api := billingapi.NewServer(svc, store, cfg, prometheus.DefaultGatherer)
	svc.OnRun = api.BroadcastRun
	go svc.Run(ctx)

	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	server := &http.Server{
		Addr:              listener,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting Edge Billing API on %s for %d edges", listener, len(cfg.Edges))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("Edge Billing API stopped")
}
