package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/services"
)

// Health endpoints

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Index endpoints

func (s *Server) handleListIndices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"indices": s.engine.Registry().Names()})
}

// ImportRequest triggers one import. An empty IDs slice imports the full
// default scope.
type ImportRequest struct {
	IDs []string `json:"ids,omitempty"`

	BatchSize   int      `json:"batch_size,omitempty"`
	BulkMaxSize int      `json:"bulk_max_size,omitempty"`
	Parallel    int      `json:"parallel,omitempty"`
	Fields      []string `json:"fields,omitempty"`
	Routing     string   `json:"routing,omitempty"`
	Refresh     *bool    `json:"refresh,omitempty"`
	Journal     *bool    `json:"journal,omitempty"`
}

func (req ImportRequest) options() domain.ImportOptions {
	return domain.ImportOptions{
		BatchSize:   req.BatchSize,
		BulkMaxSize: req.BulkMaxSize,
		Parallel:    req.Parallel,
		Fields:      req.Fields,
		Routing:     req.Routing,
		Refresh:     req.Refresh,
		Journal:     req.Journal,
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req ImportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var scope domain.Scope
	if len(req.IDs) > 0 {
		scope = req.IDs
	}

	result, err := s.engine.Import(r.Context(), name, scope, req.options())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownIndex):
			writeError(w, http.StatusNotFound, "unknown index")
		case errors.Is(err, domain.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("import failed", "index", name, "error", err)
			writeError(w, http.StatusBadGateway, "import failed")
		}
		return
	}

	status := http.StatusOK
	if !result.Ok() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// Journal endpoints

// JournalApplyRequest triggers a journal replay from Since.
type JournalApplyRequest struct {
	Since       time.Time `json:"since"`
	Retries     int       `json:"retries,omitempty"`
	Once        bool      `json:"once,omitempty"`
	OnlyIndexes []string  `json:"only_indexes,omitempty"`
}

func (s *Server) handleJournalApply(w http.ResponseWriter, r *http.Request) {
	var req JournalApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Since.IsZero() {
		writeError(w, http.StatusBadRequest, "since is required")
		return
	}

	result, err := s.engine.ApplyJournal(r.Context(), req.Since, services.ApplyOptions{
		Retries:     req.Retries,
		Once:        req.Once,
		OnlyIndexes: req.OnlyIndexes,
	})
	if err != nil {
		s.logger.Error("journal replay failed", "error", err)
		writeError(w, http.StatusBadGateway, "journal replay failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// JournalCleanRequest removes journal entries older than Until.
type JournalCleanRequest struct {
	Until time.Time `json:"until"`
}

func (s *Server) handleJournalClean(w http.ResponseWriter, r *http.Request) {
	var req JournalCleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Until.IsZero() {
		writeError(w, http.StatusBadRequest, "until is required")
		return
	}

	deleted, err := s.engine.CleanJournal(r.Context(), req.Until)
	if err != nil {
		s.logger.Error("journal clean failed", "error", err)
		writeError(w, http.StatusBadGateway, "journal clean failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// Queue endpoints

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	queue := s.engine.Queue()
	if queue == nil {
		writeError(w, http.StatusNotFound, "no queue configured")
		return
	}

	stats, err := queue.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", "error", err)
		writeError(w, http.StatusBadGateway, "queue stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
