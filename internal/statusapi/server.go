package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mediabuy/adbatch/internal/bulkmut"
	"github.com/mediabuy/adbatch/internal/oplog"
)

// JobSource exposes the live job ledger.
type JobSource interface {
	Snapshot() []bulkmut.Job
	PendingCount() int
}

// ServerConfig configures the status surface.
type ServerConfig struct {
	// StreamInterval is how often the websocket feed pushes a snapshot.
	StreamInterval time.Duration
}

// Server is a read-only HTTP surface over a run's job ledger and the
// operation log's job history, for operators watching a submission.
type Server struct {
	jobs JobSource
	log  oplog.Log
	cfg  ServerConfig
}

func NewServer(jobs JobSource, log oplog.Log, cfg ServerConfig) *Server {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 2 * time.Second
	}
	return &Server{jobs: jobs, log: log, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	switch {
	case r.URL.Path == "/healthz":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/jobs":
		s.handleJobs(w, r)
	case r.URL.Path == "/v1/jobs/history":
		s.handleHistory(w, r)
	case r.URL.Path == "/v1/jobs/stream":
		s.handleStream(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

type jobsResponse struct {
	Pending int           `json:"pending"`
	Jobs    []bulkmut.Job `json:"jobs"`
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobsSnapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no operation log attached"})
		return
	}
	var clientID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("client_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id must be an integer"})
			return
		}
		clientID = parsed
	}
	history, err := s.log.JobHistory(r.Context(), clientID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		History []oplog.JobStatusEntry `json:"history"`
	}{History: history})
}

// handleStream pushes ledger snapshots over a websocket until the client
// goes away. The feed ends on its own once no jobs are pending.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	for {
		snapshot := s.jobsSnapshot()
		if err := wsjson.Write(ctx, conn, snapshot); err != nil {
			return
		}
		if snapshot.Pending == 0 {
			conn.Close(websocket.StatusNormalClosure, "all jobs terminal")
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) jobsSnapshot() jobsResponse {
	resp := jobsResponse{Jobs: []bulkmut.Job{}}
	if s.jobs != nil {
		resp.Jobs = s.jobs.Snapshot()
		resp.Pending = s.jobs.PendingCount()
	}
	return resp
}

// StreamJobs connects to another process's stream endpoint and invokes fn
// for every snapshot until the feed closes.
func StreamJobs(ctx context.Context, url string, fn func(pending int, jobs []bulkmut.Job)) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		var snapshot jobsResponse
		if err := wsjson.Read(ctx, conn, &snapshot); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		fn(snapshot.Pending, snapshot.Jobs)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
