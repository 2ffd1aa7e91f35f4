package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/syncmarks/syncmarks/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Redis string `json:"redis"`
}

// Readyz reports whether the service can accept sync sessions, which
// means the durable store answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.RedisClient.Ping(ctx).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(readyzResponse{Ready: false, Redis: err.Error()})
			return
		}

		_ = json.NewEncoder(w).Encode(readyzResponse{Ready: true, Redis: "ok"})
	}
}
