package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.stopSession)
			r.Post("/restart", s.restartSession)

			r.Get("/state", s.getState)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.appendMessage)
			r.Get("/todo", s.getTodos)

			r.Post("/tool", s.executeTool)
			r.Post("/shell", s.runShell)
			r.Post("/script", s.runScript)

			r.Get("/event", s.sessionEvents)
		})
	})

	r.Get("/event", s.globalEvents)
}
