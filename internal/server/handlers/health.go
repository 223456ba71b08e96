package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tourlab/termbroker/internal/broker"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Connections *int   `json:"connections,omitempty"`
	Sessions    *int   `json:"sessions,omitempty"`
}

// Health returns the health status of the server
func Health(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns := b.Connections().Count()
		sessions := b.SessionCount()
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:      "healthy",
			Service:     "termbroker",
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Connections: &conns,
			Sessions:    &sessions,
		})
	}
}

// Ready returns the readiness status of the server
func Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
