package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/allabolag/scraper/internal/interfaces"
	"github.com/allabolag/scraper/internal/models"
)

// timeNowYear returns the current calendar year, the nowYear Validate's
// pure-function contract requires its caller to inject.
func timeNowYear() int {
	return time.Now().Year()
}

// toMigrationOptions adapts the wire request into interfaces.MigrationOptions.
func toMigrationOptions(req migrateJobRequest) interfaces.MigrationOptions {
	return interfaces.MigrationOptions{IncludeWarnings: req.IncludeWarnings, SkipDuplicates: req.SkipDuplicates}
}

// jobIDFromPath extracts the {id} segment from "/api/jobs/{id}[/suffix]",
// given the path's known suffix (empty for a bare "/api/jobs/{id}").
func jobIDFromPath(r *http.Request, suffix string) string {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	path = strings.TrimSuffix(path, suffix)
	return strings.Trim(path, "/")
}

// previewSegmentationHandler implements previewSegmentation(filters) ->
// {count, isExact, isEstimated, actualProfitLimits}, spec.md §6.
func (s *Server) previewSegmentationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var filters models.Filters
	if !decodeJSON(w, r, &filters) {
		return
	}

	result, err := s.previewer.Preview(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// startJobRequest is startJob's request body: filters plus the run mode.
type startJobRequest struct {
	Filters models.Filters `json:"filters"`
	Mode    string         `json:"mode"`
}

// startJob mode values, per spec.md §6.
const (
	modeSegmentation = "segmentation"
	modeFullPipeline = "full_pipeline"
)

// startJobHandler implements startJob(filters, mode) -> {jobId}.
func (s *Server) startJobHandler(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var jobID string
	var err error
	switch req.Mode {
	case modeSegmentation:
		jobID, err = s.jobController.StartSegmentation(r.Context(), req.Filters)
	case modeFullPipeline:
		jobID, err = s.jobController.StartFullPipeline(r.Context(), req.Filters)
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"segmentation\" or \"full_pipeline\"")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"jobId": jobID})
}

// getJobHandler implements getJob(jobId) -> {status, stage, lastPage,
// processedCount, totalCompanies, rateLimitStats}.
func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID := jobIDFromPath(r, "")
	job, err := s.jobController.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// pauseJobHandler implements pause(jobId).
func (s *Server) pauseJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := jobIDFromPath(r, "/pause")
	if err := s.jobController.Pause(r.Context(), jobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// resumeJobHandler implements resume(jobId).
func (s *Server) resumeJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := jobIDFromPath(r, "/resume")
	if err := s.jobController.Resume(r.Context(), jobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// stopJobHandler implements stop(jobId).
func (s *Server) stopJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobID := jobIDFromPath(r, "/stop")
	if err := s.jobController.Stop(r.Context(), jobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// paginationParams reads page/limit query params, defaulting to page 1,
// limit 50 — the teacher's GetPaginationParams default (internal/handlers/helpers.go).
func paginationParams(r *http.Request) (page, limit int) {
	page, limit = 1, 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return page, limit
}

// companiesPage is listCompanies' paginated response envelope.
type companiesPage struct {
	Companies []*models.StagingCompany `json:"companies"`
	Page      int                      `json:"page"`
	Limit     int                      `json:"limit"`
	Total     int                      `json:"total"`
}

// listCompaniesHandler implements listCompanies(jobId, {status?, search?,
// page, limit}) -> paginated rows with per-stage data, spec.md §6. A
// status filter takes the exact-status index path; a search term without
// a status filter takes the search path. The storage layer doesn't expose
// a combined status+search query, so status wins when both are given.
func (s *Server) listCompaniesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID := jobIDFromPath(r, "/companies")
	store, err := s.storage.Staging().Open(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	page, limit := paginationParams(r)
	status := r.URL.Query().Get("status")
	search := r.URL.Query().Get("search")

	var companies []*models.StagingCompany
	var total int

	// Storage pages are zero-based; this verb's pages start at 1.
	if status != "" {
		companies, err = store.Companies().ListCompaniesByStatus(r.Context(), jobID, models.CompanyStatus(status), page-1, limit)
		if err == nil {
			total, err = store.Companies().CountCompanies(r.Context(), jobID)
		}
	} else {
		companies, total, err = store.Companies().ListCompanies(r.Context(), jobID, search, page-1, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, companiesPage{Companies: companies, Page: page, Limit: limit, Total: total})
}

// errorRow is one listErrors row: the failed StagingCompany plus a
// human-readable derived reason, per SPEC_FULL.md §12's supplemented
// listErrors/listFailures feature.
type errorRow struct {
	*models.StagingCompany
	Reason string `json:"reason"`
}

// listErrorsHandler implements listErrors(jobId) -> rows with derived reason.
func (s *Server) listErrorsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID := jobIDFromPath(r, "/errors")
	store, err := s.storage.Staging().Open(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	failures, err := store.Companies().ListFailures(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rows := make([]errorRow, 0, len(failures))
	for _, f := range failures {
		reason := f.LastError
		if reason == "" {
			reason = "unknown error at status " + string(f.Status)
		}
		rows = append(rows, errorRow{StagingCompany: f, Reason: reason})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"errors": rows})
}

// validateJobHandler implements validateJob(jobId) -> validation summary.
func (s *Server) validateJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID := jobIDFromPath(r, "/validate")
	nowYear := timeNowYear()

	summary, err := s.validator.ValidateJob(r.Context(), jobID, nowYear)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// migrateJobRequest is migrateJob's request body, spec.md §4.10.
type migrateJobRequest struct {
	IncludeWarnings bool `json:"include_warnings"`
	SkipDuplicates  bool `json:"skip_duplicates"`
}

// migrateJobHandler implements migrateJob(jobId, options) -> migration summary.
func (s *Server) migrateJobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobID := jobIDFromPath(r, "/migrate")

	var req migrateJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	summary, err := s.migrator.Migrate(r.Context(), jobID, toMigrationOptions(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
