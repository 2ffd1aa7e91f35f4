package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/syncmarks/syncmarks/internal/httpserver/deps"
	"github.com/syncmarks/syncmarks/internal/httpserver/handlers"
)

func init() { Register(registerSync) }

func registerSync(r chi.Router, d deps.Deps) {
	r.Get("/sync", handlers.Sync(d))
}
