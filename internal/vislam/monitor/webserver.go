// Package monitor serves the HTTP debugging interface for the vislam
// pipeline: health, JSON status, and trajectory charts. It is an operator
// surface, not a result-publishing transport.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ChristophTobler/ros-examples/internal/db"
	"github.com/ChristophTobler/ros-examples/internal/vislam"
	"github.com/ChristophTobler/ros-examples/internal/vislam/recorder"
)

// WebServer handles the HTTP interface for monitoring the vislam pipeline.
type WebServer struct {
	address string
	manager *vislam.Manager
	db      *db.DB
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Manager *vislam.Manager
	// DB enables the trajectory endpoints when set.
	DB *db.DB
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		manager: config.Manager,
		db:      config.DB,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Start begins the HTTP server in a goroutine and shuts it down gracefully
// when the context is cancelled.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/vislam/status", ws.handleStatus)
	mux.HandleFunc("/api/vislam/sessions", ws.handleSessions)
	mux.HandleFunc("/debug/vislam/trajectory", ws.handleTrajectoryChart)

	return mux
}

// Handler exposes the route mux for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusResponse is the JSON shape of /api/vislam/status.
type statusResponse struct {
	State       string               `json:"state"`
	Stats       vislam.StatsSnapshot `json:"stats"`
	LastFrameID int64                `json:"last_frame_id"`
	Pose        *statusPose          `json:"pose,omitempty"`
}

type statusPose struct {
	FrameID     int64      `json:"frame_id"`
	TimestampNs int64      `json:"timestamp_ns"`
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"` // w, x, y, z
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := statusResponse{
		State:       ws.manager.State().String(),
		Stats:       ws.manager.Stats().Snapshot(),
		LastFrameID: ws.manager.LastSubmittedFrameID(),
	}
	if result, err := ws.manager.GetPose(); err == nil {
		q := result.Pose.Orientation
		p := result.Pose.Position
		resp.Pose = &statusPose{
			FrameID:     result.FrameID,
			TimestampNs: result.TimestampNs,
			Position:    [3]float64{p.X, p.Y, p.Z},
			Orientation: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for session lookup")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	sessions, err := recorder.ListSessions(ws.db, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	type sessionSummary struct {
		SessionID string `json:"session_id"`
		Notes     string `json:"notes"`
		PoseCount int    `json:"pose_count"`
	}
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{SessionID: s.SessionID, Notes: s.Notes, PoseCount: s.PoseCount})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}
