package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Login sessions
	mux.HandleFunc("/api/sessions", s.app.SessionHandler.StartSessionHandler) // POST - start or resume
	mux.HandleFunc("/api/sessions/", s.app.SessionHandler.SessionRoutes)      // GET /{id}, POST /{id}/cancel, GET /existing

	// API routes - Job queue
	mux.HandleFunc("/api/jobs", s.handleJobsRoute) // GET (list), POST (enqueue)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.GetJobHandler)

	// API routes - Automations
	mux.HandleFunc("/api/automations", s.handleAutomationsRoute)                  // GET (list), POST (create)
	mux.HandleFunc("/api/automations/", s.app.AutomationHandler.AutomationRoutes) // GET|DELETE /{id}, POST /{id}/trigger

	// API routes - Browser extension credential channel
	mux.HandleFunc("/api/extension", s.app.ExtensionHandler.MessageHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs by method
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.JobHandler.ListJobsHandler,
		s.app.JobHandler.CreateJobHandler,
	)
}

// handleAutomationsRoute routes /api/automations by method
func (s *Server) handleAutomationsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.AutomationHandler.ListAutomationsHandler,
		s.app.AutomationHandler.CreateAutomationHandler,
	)
}
