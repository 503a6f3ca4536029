package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"kind":    kind,
			"message": message,
		},
	})
}

func pathID(r *http.Request, key string) (int64, bool) {
	raw := chi.URLParam(r, key)
	if raw == "" {
		// Fallback for direct handler tests without chi route context.
		segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		for i := 0; i < len(segments)-1; i++ {
			if segments[i] == "incidents" {
				raw = segments[i+1]
				break
			}
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
