package handler

import "net/http"

// AvailableEndpoints is advertised on every 404 and 405.
var AvailableEndpoints = []string{
	"GET /health",
	"GET /languages",
	"POST /execute",
}

// NotFound is installed as the router's NotFound handler.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:              "Endpoint not found",
		AvailableEndpoints: AvailableEndpoints,
	})
}

// MethodNotAllowed is installed as the router's MethodNotAllowed handler.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:              "Method not allowed",
		AvailableEndpoints: AvailableEndpoints,
	})
}
