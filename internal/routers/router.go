package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"collabrelay/internal/api"
)

func New(h *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/v1/healthz", h.Health)
	r.Get("/api/v1/rooms/{roomKey}", h.RoomState)

	r.Get("/ws/collab/{roomKey}", h.CollabWS)

	return r
}
