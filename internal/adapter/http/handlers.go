package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/swarmcore/internal/adapter/ws"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
	"github.com/Strob0t/swarmcore/internal/domain/task"
	"github.com/Strob0t/swarmcore/internal/port/eventstore"
	"github.com/Strob0t/swarmcore/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Coordinator  *service.CoordinatorService
	Orchestrator *service.OrchestratorService
	Consensus    *service.ConsensusService
	Memory       *service.MemoryService
	Registry     *service.RegistryService
	Events       eventstore.Store // nil disables the event history endpoints
	Hub          *ws.Hub
	// Checks are dependency probes reported by /health, keyed by name.
	Checks map[string]func(context.Context) error
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "dependencies": deps})
}

// Status handles GET /api/v1/status
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Coordinator.Status())
}

// --- Tasks ---

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	spec, ok := readJSON[task.Spec](w, r)
	if !ok {
		return
	}
	t, err := h.Coordinator.Execute(r.Context(), spec)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// TaskEvents handles GET /api/v1/tasks/{id}/events
func (h *Handlers) TaskEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusNotImplemented, "event history not configured")
		return
	}
	events, err := h.Events.LoadByTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ReportPhase handles POST /api/v1/phases/{id}/report
func (h *Handlers) ReportPhase(w http.ResponseWriter, r *http.Request) {
	report, ok := readJSON[task.Report](w, r)
	if !ok {
		return
	}
	if !requireField(w, report.AgentID, "agent_id") {
		return
	}
	if err := h.Orchestrator.EvaluateCheckpoint(r.Context(), urlParam(r, "id"), report); err != nil {
		writeDomainError(w, err, "phase not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Proposals ---

// CreateProposal handles POST /api/v1/proposals
func (h *Handlers) CreateProposal(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[proposal.CreateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Consensus.CreateProposal(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type voteRequest struct {
	AgentID    string          `json:"agent_id"`
	Choice     proposal.Choice `json:"choice"`
	Confidence float64         `json:"confidence"`
}

// SubmitVote handles POST /api/v1/proposals/{id}/votes
func (h *Handlers) SubmitVote(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[voteRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.AgentID, "agent_id") {
		return
	}
	res, err := h.Consensus.SubmitVote(r.Context(), urlParam(r, "id"), req.AgentID, req.Choice, req.Confidence)
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CheckConsensus handles GET /api/v1/proposals/{id}/consensus
func (h *Handlers) CheckConsensus(w http.ResponseWriter, r *http.Request) {
	res, err := h.Consensus.CheckConsensus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExecuteDecision handles POST /api/v1/proposals/{id}/execute
func (h *Handlers) ExecuteDecision(w http.ResponseWriter, r *http.Request) {
	out, err := h.Consensus.ExecuteDecision(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Memory ---

// memoryPutRequest is the body of a memory write. The partition and key come
// from the path.
type memoryPutRequest struct {
	Value     any                   `json:"value"`
	Type      string                `json:"type,omitempty"`
	Owner     string                `json:"owner"`
	Tags      []string              `json:"tags,omitempty"`
	Access    knowledge.Access      `json:"access,omitempty"`
	TTL       string                `json:"ttl,omitempty"`
	BaseClock knowledge.VectorClock `json:"base_clock,omitempty"`
}

type memoryPutResponse struct {
	Entry   *knowledge.Entry  `json:"entry"`
	Outcome knowledge.Outcome `json:"outcome"`
}

// PutMemory handles PUT /api/v1/memory/{partition}/*
func (h *Handlers) PutMemory(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[memoryPutRequest](w, r)
	if !ok {
		return
	}
	var ttl time.Duration
	if body.TTL != "" {
		d, err := time.ParseDuration(body.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}
	e, outcome, err := h.Memory.Put(r.Context(), knowledge.PutRequest{
		Partition: knowledge.Partition(urlParam(r, "partition")),
		Key:       urlParam(r, "*"),
		Value:     body.Value,
		Type:      body.Type,
		Owner:     body.Owner,
		Tags:      body.Tags,
		Access:    body.Access,
		TTL:       ttl,
		BaseClock: body.BaseClock,
	})
	if err != nil {
		writeDomainError(w, err, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, memoryPutResponse{Entry: e, Outcome: outcome})
}

// GetMemory handles GET /api/v1/memory/{partition}/*
func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	e, err := h.Memory.Get(r.Context(), knowledge.Partition(urlParam(r, "partition")), urlParam(r, "*"))
	if err != nil {
		writeDomainError(w, err, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteMemory handles DELETE /api/v1/memory/{partition}/*
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	err := h.Memory.Delete(r.Context(), knowledge.Partition(urlParam(r, "partition")), urlParam(r, "*"))
	if err != nil {
		writeDomainError(w, err, "entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueryMemory handles GET /api/v1/memory/{partition}
// Query parameters: type, owner, access, prefix, tags (comma separated), limit.
func (h *Handlers) QueryMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := knowledge.Filter{
		Type:   q.Get("type"),
		Owner:  q.Get("owner"),
		Access: knowledge.Access(q.Get("access")),
		Prefix: q.Get("prefix"),
	}
	if tags := q.Get("tags"); tags != "" {
		f.Tags = strings.Split(tags, ",")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	entries, err := h.Memory.Query(r.Context(), knowledge.Partition(urlParam(r, "partition")), f)
	if err != nil {
		writeDomainError(w, err, "partition not found")
		return
	}
	if entries == nil {
		entries = []knowledge.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// MemoryStats handles GET /api/v1/memory
func (h *Handlers) MemoryStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Memory.Stats())
}

// --- Agents ---

// RegisterAgent handles POST /api/v1/agents
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.RegisterRequest](w, r)
	if !ok {
		return
	}
	a, err := h.Registry.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type heartbeatRequest struct {
	Status   agent.Status `json:"status"`
	Workload float64      `json:"workload"`
	PhaseID  string       `json:"phase_id,omitempty"`
}

// Heartbeat handles POST /api/v1/agents/{id}/heartbeat
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[heartbeatRequest](w, r)
	if !ok {
		return
	}
	id := urlParam(r, "id")
	if err := h.Registry.Heartbeat(r.Context(), id, req.Status, req.Workload); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	if req.PhaseID != "" {
		if err := h.Orchestrator.ReportProgress(r.Context(), req.PhaseID, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			writeDomainError(w, err, "phase not found")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeregisterAgent handles DELETE /api/v1/agents/{id}
// Phases the agent held are requeued.
func (h *Handlers) DeregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	phases, err := h.Registry.Deregister(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	if len(phases) > 0 {
		h.Orchestrator.RequeueAgentPhases(r.Context(), id, phases)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Events ---

// RecentEvents handles GET /api/v1/events
// Query parameters: types (comma separated), after (RFC 3339), limit.
func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		writeError(w, http.StatusNotImplemented, "event history not configured")
		return
	}
	q := r.URL.Query()
	var f event.Filter
	if v := q.Get("types"); v != "" {
		for t := range strings.SplitSeq(v, ",") {
			f.Types = append(f.Types, event.Type(strings.TrimSpace(t)))
		}
	}
	if v := q.Get("after"); v != "" {
		after, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		f.After = &after
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	events, err := h.Events.Recent(r.Context(), f)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
