// Package billingapi serves billing results over HTTP and websockets.
package billingapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/NotCoffee418/edge_billing/pkg/aggregator"
	"github.com/NotCoffee418/edge_billing/pkg/billing"
	"github.com/NotCoffee418/edge_billing/pkg/config"
	"github.com/NotCoffee418/edge_billing/pkg/meterdb"
	"github.com/NotCoffee418/edge_billing/pkg/statement"
	"github.com/NotCoffee418/edge_billing/pkg/types"
)

// Biller computes totals for configured edges.
type Biller interface {
	Edge(id string) (types.Edge, bool)
	Compute(ctx context.Context, edge types.Edge, from, to time.Time) (*billing.KWHTotals, error)
}

// RunStore holds persisted billing runs.
type RunStore interface {
	LatestBillingRun(ctx context.Context, edgeID string) (*meterdb.BillingRun, error)
}

type Server struct {
	biller   Biller
	runs     RunStore
	cfg      *config.BillingAPIConfig
	gatherer prometheus.Gatherer
	hub      *Hub
}

func NewServer(biller Biller, runs RunStore, cfg *config.BillingAPIConfig, gatherer prometheus.Gatherer) *Server {
	return &Server{
		biller:   biller,
		runs:     runs,
		cfg:      cfg,
		gatherer: gatherer,
		hub:      NewHub(),
	}
}

// Hub returns the websocket hub runs are broadcast on.
func (s *Server) Hub() *Hub {
	return s.hub
}

// BroadcastRun pushes a completed run to websocket clients.
func (s *Server) BroadcastRun(run *meterdb.BillingRun) {
	s.hub.Broadcast(run)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("GET /edges", s.handleEdges)
	mux.HandleFunc("GET /edges/{id}/billing", s.handleBilling)
	mux.HandleFunc("GET /edges/{id}/billing/latest", s.handleLatest)
	mux.HandleFunc("GET /edges/{id}/statement.xlsx", s.handleStatementXLSX)
	mux.HandleFunc("GET /edges/{id}/statement.pdf", s.handleStatementPDF)
	mux.HandleFunc("GET /ws", s.hub.serveWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Edge Billing API",
		"status":  "running",
	})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.EdgeList())
}

func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request) {
	edge, from, to, ok := s.billingRequest(w, r)
	if !ok {
		return
	}
	totals, ok := s.compute(w, r, edge, from, to)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	edge, ok := s.edge(w, r)
	if !ok {
		return
	}
	run, err := s.runs.LatestBillingRun(r.Context(), edge.ID)
	if errors.Is(err, meterdb.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		log.WithField("edge", edge.ID).Errorf("Failed to load latest run: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStatementXLSX(w http.ResponseWriter, r *http.Request) {
	s.serveStatement(w, r, statement.BuildXLSX,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx")
}

func (s *Server) handleStatementPDF(w http.ResponseWriter, r *http.Request) {
	s.serveStatement(w, r, statement.BuildPDF, "application/pdf", "pdf")
}

func (s *Server) serveStatement(w http.ResponseWriter, r *http.Request, render func(*statement.Report) ([]byte, error), contentType, ext string) {
	edge, from, to, ok := s.billingRequest(w, r)
	if !ok {
		return
	}
	totals, ok := s.compute(w, r, edge, from, to)
	if !ok {
		return
	}

	edgeCfg, _ := s.cfg.Edge(edge.ID)
	prices := statement.NewPrices(edgeCfg.IntroPricePerKWH, edgeCfg.ProdPricePerKWH)
	report, err := statement.BuildReport(edge, prices, s.cfg.Currency, totals)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	report.SetPeriod(from, to)

	data, err := render(report)
	if err != nil {
		log.WithField("edge", edge.ID).Errorf("Failed to render statement: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("statement_%s_%s.%s", edge.ID, from.Format("20060102"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) edge(w http.ResponseWriter, r *http.Request) (types.Edge, bool) {
	id := r.PathValue("id")
	edge, ok := s.biller.Edge(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown edge %q", id))
		return types.Edge{}, false
	}
	return edge, true
}

// billingRequest resolves the edge and the RFC3339 from/to query parameters.
func (s *Server) billingRequest(w http.ResponseWriter, r *http.Request) (types.Edge, time.Time, time.Time, bool) {
	edge, ok := s.edge(w, r)
	if !ok {
		return types.Edge{}, time.Time{}, time.Time{}, false
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return types.Edge{}, time.Time{}, time.Time{}, false
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return types.Edge{}, time.Time{}, time.Time{}, false
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, errors.New("to must be after from"))
		return types.Edge{}, time.Time{}, time.Time{}, false
	}
	return edge, from, to, true
}

func (s *Server) compute(w http.ResponseWriter, r *http.Request, edge types.Edge, from, to time.Time) (*billing.KWHTotals, bool) {
	totals, err := s.biller.Compute(r.Context(), edge, from, to)
	switch {
	case errors.Is(err, aggregator.ErrNoRows), errors.Is(err, billing.ErrEmptySeries):
		writeError(w, http.StatusNotFound, err)
		return nil, false
	case errors.Is(err, aggregator.ErrIncompleteRows):
		writeError(w, http.StatusUnprocessableEntity, err)
		return nil, false
	case err != nil:
		log.WithField("edge", edge.ID).Errorf("Billing computation failed: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return totals, true
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("missing query parameter %q", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return t.UTC(), nil
}

// writeJSON answers 422 when v holds NaN or Inf.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("result not representable: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}
