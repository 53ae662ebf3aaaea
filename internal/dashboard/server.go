// Package dashboard serves a read-only view of tracked positions, last seen
// prices and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/fillwatch/internal/tracker"
)

// PositionSource provides position snapshots.
type PositionSource interface {
	Snapshot() []tracker.PositionSnapshot
}

// PriceSource provides last seen prices.
type PriceSource interface {
	Prices() map[string]float64
}

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	positions PositionSource
	prices    PriceSource
	gatherer  prometheus.Gatherer
	logger    logrus.FieldLogger
	port      int
	authToken string
}

// Config holds the listen port and optional access token.
type Config struct {
	Port      int
	AuthToken string
}

// PriceView is one entry of /api/prices.
type PriceView struct {
	Contract  string  `json:"contract"`
	LastPrice float64 `json:"last_price"`
}

// Statistics aggregates the position book.
type Statistics struct {
	Contracts     int     `json:"contracts"`
	OpenContracts int     `json:"open_contracts"`
	RealizedPnL   float64 `json:"realized_pnl"`
	ClosedBasis   float64 `json:"closed_basis"`
	PnLPercent    float64 `json:"pnl_percent"`
}

type dashboardData struct {
	Positions  []tracker.PositionSnapshot
	Stats      Statistics
	LastUpdate time.Time
}

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head><title>fillwatch</title></head>
<body>
<h1>Positions</h1>
<p>Updated {{.LastUpdate.Format "2006-01-02 15:04:05 MST"}} | realized ${{printf "%.2f" .Stats.RealizedPnL}} ({{printf "%.2f" .Stats.PnLPercent}}%)</p>
<table>
<tr><th>Contract</th><th>Open</th><th>Avg cost</th><th>Realized</th><th>PnL %</th></tr>
{{range .Positions}}<tr><td>{{.Key}}</td><td>{{.OpenQuantity}}</td><td>{{printf "%.4f" .AverageCost}}</td><td>{{printf "%.2f" .RealizedPnL}}</td><td>{{printf "%.2f" .PnLPercent}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// NewServer builds a dashboard over the trackers. A nil gatherer serves the
// default Prometheus registry.
func NewServer(cfg Config, positions PositionSource, prices PriceSource, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:    chi.NewRouter(),
		positions: positions,
		prices:    prices,
		gatherer:  gatherer,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/prices", s.handleGetPrices)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully. A Start issued afterwards returns
// immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	positions := s.positions.Snapshot()
	data := dashboardData{
		Positions:  positions,
		Stats:      calculateStatistics(positions),
		LastUpdate: time.Now(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("Failed to execute dashboard template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.positions.Snapshot()
	if r.URL.Query().Get("open") == "true" {
		open := positions[:0]
		for _, p := range positions {
			if p.OpenQuantity > 0 {
				open = append(open, p)
			}
		}
		positions = open
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	prices := s.prices.Prices()
	views := make([]PriceView, 0, len(prices))
	for contract, price := range prices {
		views = append(views, PriceView{Contract: contract, LastPrice: price})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Contract < views[j].Contract })
	s.writeJSON(w, views)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, calculateStatistics(s.positions.Snapshot()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func calculateStatistics(positions []tracker.PositionSnapshot) Statistics {
	var stats Statistics
	for _, p := range positions {
		stats.Contracts++
		if p.OpenQuantity > 0 {
			stats.OpenContracts++
		}
		stats.RealizedPnL += p.RealizedPnL
		stats.ClosedBasis += p.ClosedBasis
	}
	if stats.ClosedBasis != 0 {
		stats.PnLPercent = stats.RealizedPnL / stats.ClosedBasis * 100
	}
	return stats
}
