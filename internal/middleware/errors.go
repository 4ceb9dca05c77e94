package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError matches the api package's error envelope. middleware cannot
// import api since the router imports middleware.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
