package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/amberfi/clr/internal/logger"
	"github.com/amberfi/clr/internal/pool"
	"github.com/amberfi/clr/internal/rewards"
	"github.com/amberfi/clr/internal/state"
	"github.com/amberfi/clr/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for pool data visualization
type WebServer struct {
	router  *mux.Router
	port    string
	engine  *pool.Engine
	rewards *rewards.Distributor
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, engine *pool.Engine, distributor *rewards.Distributor) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		engine:  engine,
		rewards: distributor,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/latest", ws.handleGetLatestSnapshot).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")
	api.HandleFunc("/rewards", ws.handleGetRewards).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformance).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "clr-pool-daemon",
			"version": "1.0.0",
		},
		"database_healthy": dbHealthy,
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetSummary returns the live pool summary straight from the engine
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	snapshot := ws.engine.Snapshot(0)
	if ws.rewards != nil {
		snapshot.RewardPrograms = ws.rewards.Programs()
	}

	asset0, asset1 := ws.engine.Assets()
	buffer := ws.engine.Buffer()
	display := map[string]interface{}{}
	if buffer0, err := utils.SDKIntToFloat64(buffer.Amount0, asset0.Decimals); err == nil {
		display["buffer_"+asset0.Denom] = buffer0
	}
	if buffer1, err := utils.SDKIntToFloat64(buffer.Amount1, asset1.Decimals); err == nil {
		display["buffer_"+asset1.Denom] = buffer1
	}

	response := map[string]interface{}{
		"pool":      snapshot,
		"display":   display,
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns paginated persisted snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestSnapshot returns the most recent persisted snapshot
func (ws *WebServer) handleGetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := state.GetLatestSnapshot()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get latest snapshot")
		ws.writeErrorResponse(w, http.StatusNotFound, "No snapshots found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, snapshot)
}

// handleGetEvents returns recent journaled events, optionally filtered by type
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}
	eventType := r.URL.Query().Get("type")

	eventList, err := state.GetRecentEvents(limit, eventType)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	response := map[string]interface{}{
		"events": eventList,
		"count":  len(eventList),
		"limit":  limit,
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRewards returns the active reward programs
func (ws *WebServer) handleGetRewards(w http.ResponseWriter, r *http.Request) {
	if ws.rewards == nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Reward distribution is not configured")
		return
	}

	response := map[string]interface{}{
		"programs":  ws.rewards.Programs(),
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPerformance returns history-wide counters and fee growth
func (ws *WebServer) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetPoolSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get pool summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve pool summary")
		return
	}
	growth, err := state.GetFeeGrowth()
	if err != nil {
		// No snapshots yet is not a server fault.
		growth = nil
	}

	response := map[string]interface{}{
		"summary":    summary,
		"fee_growth": growth,
		"timestamp":  time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
