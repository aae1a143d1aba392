package server

import "net/http"

// setupRoutes mounts this engine's control surface (spec.md §6): one
// handler per verb, dispatched by method where a path is shared between
// GET and POST, plus the job-status websocket stream.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/shutdown", s.ShutdownHandler)

	mux.HandleFunc("/api/preview", s.previewSegmentationHandler)
	mux.HandleFunc("/api/jobs", s.jobsCollectionHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	mux.HandleFunc("/ws", s.handleJobStatusStream)

	return mux
}

// jobsCollectionHandler dispatches POST /api/jobs (startJob).
func (s *Server) jobsCollectionHandler(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: s.startJobHandler,
	})
}

// handleJobRoutes dispatches everything under /api/jobs/{id}[/verb], the
// same path-suffix sub-router shape the teacher's routes.go used for its
// own /api/jobs/{id} family.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	matched := RouteByPathSuffix(w, r, "/api/jobs/", []PathSuffixRouter{
		{Suffix: "/pause", Handler: s.pauseJobHandler},
		{Suffix: "/resume", Handler: s.resumeJobHandler},
		{Suffix: "/stop", Handler: s.stopJobHandler},
		{Suffix: "/companies", Handler: s.listCompaniesHandler},
		{Suffix: "/errors", Handler: s.listErrorsHandler},
		{Suffix: "/validate", Handler: s.validateJobHandler},
		{Suffix: "/migrate", Handler: s.migrateJobHandler},
	})
	if matched {
		return
	}

	// Nothing left but /api/jobs/{id} itself: getJob.
	s.getJobHandler(w, r)
}
