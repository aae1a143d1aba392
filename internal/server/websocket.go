package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/allabolag/scraper/internal/models"
	"github.com/gorilla/websocket"
)

// statusStreamInterval is how often a job-status frame is pushed, per
// SPEC_FULL.md §11's "job-status stream" domain-stack entry.
const statusStreamInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusFrame is one getJob-shaped progress frame pushed to the stream.
type statusFrame struct {
	Type string      `json:"type"`
	Job  *models.Job `json:"job,omitempty"`
	Err  string      `json:"error,omitempty"`
}

// handleJobStatusStream upgrades GET /ws?jobId=... to a websocket and
// pushes getJob-shaped frames for that job at a fixed interval until the
// job reaches a terminal status or the client disconnects. Grounded on
// the teacher's websocket.Upgrader/per-connection-mutex pattern
// (internal/handlers/websocket.go), narrowed to a single job subscription
// instead of the teacher's fan-out broadcaster.
func (s *Server) handleJobStatusStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(frame statusFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	ticker := time.NewTicker(statusStreamInterval)
	defer ticker.Stop()

	for {
		job, err := s.jobController.GetJob(r.Context(), jobID)
		if err != nil {
			_ = send(statusFrame{Type: "error", Err: err.Error()})
			return
		}

		if err := send(statusFrame{Type: "status", Job: job}); err != nil {
			return
		}

		if isTerminal(job.Status) {
			return
		}

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

func isTerminal(status models.JobStatus) bool {
	switch status {
	case models.JobStatusDone, models.JobStatusStopped, models.JobStatusError:
		return true
	default:
		return false
	}
}
