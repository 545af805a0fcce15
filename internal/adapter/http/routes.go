package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})
		r.Get("/status", h.Status)

		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", handleList(h.Orchestrator.ListTasks))
		r.Get("/tasks/{id}", handleGet(h.Orchestrator.GetTask, "task not found"))
		r.Delete("/tasks/{id}", handleDelete(h.Orchestrator.CancelTask, "task not found"))
		r.Get("/tasks/{id}/events", h.TaskEvents)
		r.Post("/phases/{id}/report", h.ReportPhase)

		// Proposals
		r.Post("/proposals", h.CreateProposal)
		r.Get("/proposals", handleList(h.Consensus.ListOpen))
		r.Get("/proposals/{id}", handleGet(h.Consensus.GetProposal, "proposal not found"))
		r.Post("/proposals/{id}/votes", h.SubmitVote)
		r.Get("/proposals/{id}/consensus", h.CheckConsensus)
		r.Post("/proposals/{id}/execute", h.ExecuteDecision)

		// Memory; keys may contain slashes
		r.Get("/memory", h.MemoryStats)
		r.Get("/memory/{partition}", h.QueryMemory)
		r.Put("/memory/{partition}/*", h.PutMemory)
		r.Get("/memory/{partition}/*", h.GetMemory)
		r.Delete("/memory/{partition}/*", h.DeleteMemory)

		// Agents
		r.Post("/agents", h.RegisterAgent)
		r.Get("/agents", handleList(h.Registry.List))
		r.Get("/agents/{id}", handleGet(h.Registry.Get, "agent not found"))
		r.Delete("/agents/{id}", h.DeregisterAgent)
		r.Post("/agents/{id}/heartbeat", h.Heartbeat)

		// Events
		r.Get("/events", h.RecentEvents)
	})
}
