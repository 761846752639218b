/*

Read-only status API. Exposes pool aggregates, the protection log, tracked
loan states and Prometheus metrics over HTTP. Nothing here mutates engine
state.

*/

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parapet-finance/parapet/internal/engine"
	"github.com/parapet-finance/parapet/internal/logger"
	"github.com/parapet-finance/parapet/internal/pool"
	"github.com/parapet-finance/parapet/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for engine state.
type WebServer struct {
	router *mux.Router
	engine *engine.Engine
	port   string
}

// NewWebServer creates a new web server instance.
func NewWebServer(port string, eng *engine.Engine) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		engine: eng,
		port:   port,
	}

	server.setupRoutes()
	return server
}

func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pools", ws.handlePools).Methods("GET")
	api.HandleFunc("/pools/{id}", ws.handlePool).Methods("GET")
	api.HandleFunc("/pools/{id}/protections", ws.handleProtections).Methods("GET")
	api.HandleFunc("/pools/{id}/loans/{loan}/status", ws.handleLoanStatus).Methods("GET")
	api.HandleFunc("/pools/{id}/loans/{loan}/locked", ws.handleLockedCapital).Methods("GET")
}

// Start begins serving; it blocks until the listener fails or is closed.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Status API listening")
	return http.ListenAndServe(":"+ws.port, ws.router)
}

// ServeHTTP makes the server mountable as a plain http.Handler.
func (ws *WebServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws.router.ServeHTTP(w, r)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"pools":  len(ws.engine.PoolIDs()),
	})
}

func (ws *WebServer) handlePools(w http.ResponseWriter, r *http.Request) {
	ids := ws.engine.PoolIDs()
	snapshots := make([]any, 0, len(ids))
	for _, id := range ids {
		p, err := ws.engine.Pool(id)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, p.Snapshot())
	}
	ws.writeJSON(w, http.StatusOK, snapshots)
}

func (ws *WebServer) handlePool(w http.ResponseWriter, r *http.Request) {
	p, ok := ws.poolFromRequest(w, r)
	if !ok {
		return
	}
	ws.writeJSON(w, http.StatusOK, p.Snapshot())
}

func (ws *WebServer) handleProtections(w http.ResponseWriter, r *http.Request) {
	p, ok := ws.poolFromRequest(w, r)
	if !ok {
		return
	}
	ws.writeJSON(w, http.StatusOK, p.Protections())
}

func (ws *WebServer) handleLoanStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := ws.poolFromRequest(w, r)
	if !ok {
		return
	}
	loan := types.LoanID(mux.Vars(r)["loan"])
	detail, err := ws.engine.Tracker().LoanStatus(p.ID(), loan)
	if err != nil {
		ws.writeError(w, http.StatusNotFound, err)
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]any{
		"loan":    loan,
		"status":  detail.Current.String(),
		"late_at": detail.LateAt,
	})
}

func (ws *WebServer) handleLockedCapital(w http.ResponseWriter, r *http.Request) {
	p, ok := ws.poolFromRequest(w, r)
	if !ok {
		return
	}
	loan := types.LoanID(mux.Vars(r)["loan"])
	instances, err := ws.engine.Tracker().LockedCapital(p.ID(), loan)
	if err != nil {
		ws.writeError(w, http.StatusNotFound, err)
		return
	}
	ws.writeJSON(w, http.StatusOK, instances)
}

func (ws *WebServer) poolFromRequest(w http.ResponseWriter, r *http.Request) (*pool.ProtectionPool, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		ws.writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	p, err := ws.engine.Pool(types.PoolID(id))
	if err != nil {
		ws.writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return p, true
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (ws *WebServer) writeError(w http.ResponseWriter, status int, err error) {
	ws.writeJSON(w, status, map[string]string{"error": err.Error()})
}
