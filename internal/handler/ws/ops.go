package ws

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/inventra/ims-event-hub/internal/service"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

// Ops serves the plain-HTTP operational surface next to the socket
// endpoints. The monitor dashboard polls /stats.
type Ops struct {
	sessions *service.SessionManager
	metrics  *telemetry.Metrics
	started  time.Time
}

func NewOps(sessions *service.SessionManager, metrics *telemetry.Metrics) *Ops {
	return &Ops{sessions: sessions, metrics: metrics, started: time.Now()}
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	UptimeSec     int64 `json:"uptimeSec"`
	Sessions      int   `json:"sessions"`
	Subscriptions int   `json:"subscriptions"`
	telemetry.Snapshot
}

func (o *Ops) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (o *Ops) Stats(w http.ResponseWriter, _ *http.Request) {
	stats := o.sessions.Stats()
	resp := StatsResponse{
		UptimeSec:     int64(time.Since(o.started).Seconds()),
		Sessions:      stats.Sessions,
		Subscriptions: stats.Subscriptions,
		Snapshot:      o.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
