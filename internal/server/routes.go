package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/tether/internal/api/v1"
	"github.com/gosuda/tether/internal/api/ws"
	tetherslack "github.com/gosuda/tether/internal/messenger/slack"
)

func registerAPIRoutes(api huma.API, store v1.DataStore, ctrl v1.Controller) {
	v1.RegisterConversationRoutes(api, store, ctrl)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/activity/{channel}", hub.ServeActivity)
}

func registerSlackRoutes(r chi.Router, handler *tetherslack.Handler) {
	r.Post("/events", handler.HandleEvents)
	r.Post("/interactions", handler.HandleInteractions)
	r.Post("/commands", handler.HandleCommands)
}
