// Responsible for storing the register rows pushed by the edges, plus the
// optional local P1 and inverter sources.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/NotCoffee418/edge_billing/pkg/config"
	"github.com/NotCoffee418/edge_billing/pkg/edgefeed"
	"github.com/NotCoffee418/edge_billing/pkg/inverter"
	"github.com/NotCoffee418/edge_billing/pkg/meterdb"
	"github.com/NotCoffee418/edge_billing/pkg/metrics"
	"github.com/NotCoffee418/edge_billing/pkg/p1source"
	"github.com/NotCoffee418/edge_billing/pkg/pathing"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

const (
	sourceEdge     = "edge"
	sourceP1       = "p1"
	sourceInverter = "inverter"
)

func main() {
	if err := pathing.EnsureDirs(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}
	if err := config.LoadMeterCollectorConfig(); err != nil {
		log.Fatalf("Failed to load meter collector config: %v", err)
	}
	cfg := config.ActiveMeterCollectorConfig
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Initialize database
	store, err := meterdb.Open(pathing.GetMeterDbPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddress != "" {
		server := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if len(cfg.EdgeIDs) > 0 {
		listener := edgefeed.NewListener(cfg.EdgeHost, cfg.TLSEnabled, cfg.EdgeIDs)
		g.Go(func() error {
			// Subscribe to websocket with revive
			listener.Start(gctx, func(row *edgefeed.EdgeRow) {
				storeRow(gctx, store, sourceEdge, row.EdgeID, row.Row)
			})
			return nil
		})
	}

	if cfg.IsP1Configured() {
		reader := p1source.NewP1Reader(cfg.P1.SerialDevice, cfg.P1.Baudrate, cfg.P1.MeterOnEdge)
		g.Go(func() error {
			err := reader.StartReading(gctx, func(row types.TimedRow) {
				storeRow(gctx, store, sourceP1, cfg.P1.EdgeID, row)
			})
			if err != nil && gctx.Err() == nil {
				log.Errorf("Error reading P1 port: %v", err)
				return err
			}
			return nil
		})
	}

	if cfg.IsInverterConfigured() {
		g.Go(func() error {
			pollInverter(gctx, store, cfg.Inverter)
			return nil
		})
	}

	log.Printf("Meter collector running for edges %v", cfg.EdgeIDs)
	if err := g.Wait(); err != nil {
		log.Fatalf("Meter collector stopped: %v", err)
	}
	log.Println("Meter collector stopped")
}

func pollInverter(ctx context.Context, store *meterdb.Store, cfg config.InverterSourceConfig) {
	reader := inverter.NewReader(inverter.Config{
		IP:               cfg.IP,
		ModbusPort:       cfg.ModbusPort,
		MeterOnEdge:      cfg.MeterOnEdge,
		WlanConnectionId: cfg.WlanConnectionId,
	})
	interval := time.Duration(cfg.PollSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		row, err := reader.ReadRow(time.Now())
		if err != nil {
			log.WithField("inverter", cfg.IP).Warnf("Failed to read inverter: %v", err)
			metrics.IncIngestError(sourceInverter)
		} else {
			storeRow(ctx, store, sourceInverter, cfg.EdgeID, row)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func storeRow(ctx context.Context, store *meterdb.Store, source, edgeID string, row types.TimedRow) {
	if err := store.InsertRow(ctx, edgeID, row); err != nil {
		log.WithFields(log.Fields{"edge": edgeID, "source": source}).Errorf("Failed to store row: %v", err)
		metrics.IncIngestError(source)
		return
	}
	metrics.IncRowsIngested(source)
	log.WithFields(log.Fields{"edge": edgeID, "source": source}).Debugf("Stored row at %s", row.Timestamp.Format(time.RFC3339))
}
