package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Map jobs
	mux.HandleFunc("/api/maps", s.app.MapHandler.SubmitHandler)             // POST - submit request
	mux.HandleFunc("/api/maps/{id}/status", s.app.MapHandler.StatusHandler) // GET - job status
	mux.HandleFunc("/api/maps/{id}/result", s.app.MapHandler.ResultHandler) // GET - download PDF once

	// Routes used by the original map client
	mux.HandleFunc("/getMap", s.handleGetMap)                      // POST submit, GET ?REQ_ID= result
	mux.HandleFunc("/checkstatus", s.app.MapHandler.StatusHandler) // GET ?REQ_ID=

	// Live status
	mux.HandleFunc("/monitor/", s.app.MonitorHandler.HandleWebSocket)

	// System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

func (s *Server) handleGetMap(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET":  s.app.MapHandler.ResultHandler,
		"POST": s.app.MapHandler.SubmitHandler,
	})
}
