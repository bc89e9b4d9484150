package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stock-rotation-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(engine *Engine, port int, logger *zap.Logger) *APIServer {
	mux := http.NewServeMux()
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	s := &APIServer{
		server: server,
		engine: engine,
		logger: logger.Named("api-server"),
	}

	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/signal", s.signalHandler)
	mux.HandleFunc("/orders/cancel-old", s.cancelOldHandler)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		UUID        string `json:"uuid"`
		Name        string `json:"name"`
		StartTime   string `json:"start_time"`
		Uptime      string `json:"uptime"`
		ActiveStops int    `json:"active_stops"`
	}{
		UUID:        s.engine.UUID,
		Name:        s.engine.Name,
		StartTime:   s.engine.StartTime.Format(time.RFC3339),
		Uptime:      time.Since(s.engine.StartTime).String(),
		ActiveStops: len(s.engine.Stops().LoadActive()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// signalHandler injects a signal into the same dispatch path scored upstream
// signals take.
func (s *APIServer) signalHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var sig models.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		http.Error(w, "Invalid signal payload", http.StatusBadRequest)
		return
	}
	if sig.Symbol == "" || (sig.Side != models.SideBuy && sig.Side != models.SideSell) || sig.Quantity <= 0 || sig.Price <= 0 {
		http.Error(w, "Signal requires symbol, side, quantity and price", http.StatusBadRequest)
		return
	}

	result := s.engine.HandleSignal(sig)

	w.Header().Set("Content-Type", "application/json")
	if !result.Submitted {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(result)
}

// cancelOldHandler triggers a batch cancellation of stale orders.
// ?dry_run=true reports without cancelling.
func (s *APIServer) cancelOldHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "true"
	keepDays := s.engine.cfg.Trading.OrderKeepDays

	report, err := s.engine.Orders().CancelOldOrders(keepDays, dryRun)
	if err != nil {
		s.logger.Error("Batch cancellation failed", zap.Error(err))
		http.Error(w, "Batch cancellation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
