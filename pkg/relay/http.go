package relay

import (
	"encoding/json"
	"net/http"
	"time"
)

// Routes mounts the broker's HTTP surface on mux: the WebSocket endpoint
// plus the health and stats probes.
func (b *Broker) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", b.HandleWS)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/stats", b.handleStats)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (b *Broker) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Stats     Stats  `json:"stats"`
		Timestamp string `json:"timestamp"`
	}{
		Stats:     b.GetStats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
