package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/deployd/pkg/metrics"
	"github.com/cuemby/deployd/pkg/types"
)

// StorageReader is the storage read the readiness check performs
type StorageReader interface {
	ListEnvironments() ([]*types.Environment, error)
}

// HealthServer provides HTTP health, readiness and metrics endpoints
type HealthServer struct {
	store   StorageReader
	version string
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates the ops HTTP server. store may be nil until storage is open.
func NewHealthServer(store StorageReader, version string) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		store:   store,
		version: version,
		mux:     mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/components", metrics.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves until Stop is called. It returns nil after a clean stop.
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting up to 5s for open requests
func (hs *HealthServer) Stop() error {
	if hs.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint. The process is ready when
// storage answers and every critical component registered healthy.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.store == nil {
		checks["storage"] = "not initialized"
		ready = false
		message = "Storage not initialized"
	} else if _, err := hs.store.ListEnvironments(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		message = "Storage not accessible"
	} else {
		checks["storage"] = "ok"
	}

	readiness := metrics.GetReadiness()
	for name, state := range readiness.Components {
		if name == "storage" {
			continue
		}
		checks[name] = state
	}
	if readiness.Status != "ready" && !hasOnlyStorage(readiness.Components) {
		ready = false
		if message == "" {
			message = readiness.Message
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// hasOnlyStorage reports whether storage is the only component readiness
// waits on; storage is read directly above
func hasOnlyStorage(components map[string]string) bool {
	for name, state := range components {
		if name != "storage" && state != "ready" {
			return false
		}
	}
	return true
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
