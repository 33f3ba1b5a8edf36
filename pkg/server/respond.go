package server

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes v as application/json with status, the success-path
// counterpart to apierr.WriteJSON.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
