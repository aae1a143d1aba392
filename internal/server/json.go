package server

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes a JSON response with the given status code and body.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a standard {"error": message} JSON response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeStarted writes a standard {"status":"started", ...} response for
// async operations, mirroring startJob's "returns the job id immediately"
// contract (spec.md §4.9).
func writeStarted(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "message": message})
}

// decodeJSON decodes r's body into v, writing a 400 response and reporting
// false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
