package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/event"
)

// RegistryService tracks every agent, its capabilities, health, and the load
// reserved against its capacity.
type RegistryService struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
	events *EventRecorder
	now    func() time.Time
}

// NewRegistryService creates an empty agent registry.
func NewRegistryService(events *EventRecorder) *RegistryService {
	return &RegistryService{
		agents: make(map[string]*agent.Agent),
		events: events,
		now:    time.Now,
	}
}

// Register adds an agent. Capabilities are the role's base set plus any
// extras in the request. Re-registering an existing id refreshes its
// capabilities and brings it back online while keeping its history.
func (s *RegistryService) Register(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, agent.ErrInvalidRole)
	}
	if req.Capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must be >= 0", domain.ErrValidation)
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	capacity := req.Capacity
	if capacity == 0 {
		capacity = 1
	}
	now := s.now()

	s.mu.Lock()
	a, ok := s.agents[id]
	if ok {
		a.Role = req.Role
		a.Capabilities = agent.CapabilitySet(req.Role, req.Capabilities...)
		a.Capacity = capacity
		a.LastHeartbeat = now
		if !a.Status.Available() {
			a.Status = idleOrBusy(a)
		}
	} else {
		a = &agent.Agent{
			ID:            id,
			Role:          req.Role,
			Capabilities:  agent.CapabilitySet(req.Role, req.Capabilities...),
			Status:        agent.StatusIdle,
			Capacity:      capacity,
			Health:        1,
			ActivePhases:  make(map[string]float64),
			LastHeartbeat: now,
			RegisteredAt:  now,
		}
		s.agents[id] = a
	}
	out := a.Clone()
	s.mu.Unlock()

	slog.Info("agent registered", "agent_id", id, "role", req.Role, "capabilities", out.Capabilities.ToSlice())
	s.events.Emit(ctx, event.Event{Type: event.TypeAgentRegistered, AgentID: id}, map[string]any{
		"role":     out.Role,
		"capacity": out.Capacity,
	})
	return out, nil
}

// Deregister removes an agent. Its reserved phases are returned so the
// caller can requeue them.
func (s *RegistryService) Deregister(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	delete(s.agents, id)
	return phaseIDs(a), nil
}

// Heartbeat records liveness and the agent's self-reported workload. An
// offline agent that heartbeats comes back online.
func (s *RegistryService) Heartbeat(_ context.Context, id string, status agent.Status, workload float64) error {
	if status != "" && !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.LastHeartbeat = s.now()
	a.ReportedLoad = math.Min(math.Max(workload, 0), 1)
	switch {
	case status == agent.StatusError || status == agent.StatusOffline:
		a.Status = status
	case a.Status == agent.StatusOffline || a.Status == agent.StatusError || status != "":
		a.Status = idleOrBusy(a)
	}
	return nil
}

// Reserve books weight of a phase against an agent. The agent must be
// available and under capacity; the phase that takes it over capacity is
// still admitted and left for rebalancing.
func (s *RegistryService) Reserve(id, phaseID string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if !a.Status.Available() {
		return fmt.Errorf("agent %s is %s: %w", id, a.Status, domain.ErrAgentUnresponsive)
	}
	if _, dup := a.ActivePhases[phaseID]; dup {
		return nil
	}
	if !a.UnderCapacity() {
		return fmt.Errorf("agent %s load %.2f of %.2f: %w", id, a.Load, a.Capacity, domain.ErrCapacityExceeded)
	}
	a.ActivePhases[phaseID] = weight
	a.Load += weight
	a.Status = agent.StatusBusy
	return nil
}

// ReserveWithin books a phase only if it fits under capacity. Assignment
// tries it before Reserve, and rebalancing uses it alone so a move never
// overloads the target.
func (s *RegistryService) ReserveWithin(id, phaseID string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	if !a.Status.Available() {
		return fmt.Errorf("agent %s is %s: %w", id, a.Status, domain.ErrAgentUnresponsive)
	}
	if _, dup := a.ActivePhases[phaseID]; dup {
		return nil
	}
	if !a.Fits(weight) {
		return fmt.Errorf("agent %s load %.2f + %.2f of %.2f: %w", id, a.Load, weight, a.Capacity, domain.ErrCapacityExceeded)
	}
	a.ActivePhases[phaseID] = weight
	a.Load += weight
	a.Status = agent.StatusBusy
	return nil
}

// Release frees a phase's reservation and records its outcome. Releasing an
// unknown agent or phase is a no-op.
func (s *RegistryService) Release(id, phaseID string, outcome agent.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return
	}
	w, held := a.ActivePhases[phaseID]
	if !held {
		return
	}
	delete(a.ActivePhases, phaseID)
	a.Load = math.Max(a.Load-w, 0)
	if len(a.ActivePhases) == 0 {
		a.Load = 0
	}
	switch outcome {
	case agent.OutcomeSuccess:
		a.Record(true)
	case agent.OutcomeFailure:
		a.Record(false)
	}
	if a.Status.Available() {
		a.Status = idleOrBusy(a)
	}
}

// PenalizeHealth lowers an agent's health score, never below zero.
func (s *RegistryService) PenalizeHealth(id string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		a.Health = math.Max(a.Health-amount, 0)
	}
}

// MarkOffline takes an agent out of the assignment pool, releases its
// reservations, and returns the phases it held.
func (s *RegistryService) MarkOffline(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	a, ok := s.agents[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	held := phaseIDs(a)
	wasOnline := a.Status != agent.StatusOffline
	a.Status = agent.StatusOffline
	a.ActivePhases = make(map[string]float64)
	a.Load = 0
	s.mu.Unlock()

	if wasOnline {
		slog.Warn("agent offline", "agent_id", id, "phases", len(held))
		s.events.Emit(ctx, event.Event{Type: event.TypeAgentOffline, AgentID: id}, map[string]any{"phases": held})
	}
	return held, nil
}

// Unresponsive returns agents still considered online whose last heartbeat
// is older than window.
func (s *RegistryService) Unresponsive(window time.Duration) []string {
	cutoff := s.now().Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, a := range s.agents {
		if a.Status != agent.StatusOffline && a.LastHeartbeat.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Get returns a copy of an agent.
func (s *RegistryService) Get(id string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return a.Clone(), nil
}

// List returns copies of every agent ordered by id.
func (s *RegistryService) List() []*agent.Agent {
	s.mu.RLock()
	out := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Candidates returns copies of every agent that may take new work.
func (s *RegistryService) Candidates() []*agent.Agent {
	s.mu.RLock()
	out := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if a.Status.Available() {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EligibleVoters returns the online agents whose role votes, ordered by id.
func (s *RegistryService) EligibleVoters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, a := range s.agents {
		if !a.Status.Available() {
			continue
		}
		if p, err := agent.ProfileOf(a.Role); err == nil && p.Votes() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AggregateLoad is the reserved load over the capacity of every available agent.
func (s *RegistryService) AggregateLoad() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var load, capacity float64
	for _, a := range s.agents {
		if !a.Status.Available() {
			continue
		}
		load += a.Load
		capacity += a.Capacity
	}
	if capacity == 0 {
		return 0
	}
	return load / capacity
}

// Overloaded returns the available agents whose reserved load exceeds capacity.
func (s *RegistryService) Overloaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, a := range s.agents {
		if a.Status.Available() && a.Overloaded() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func idleOrBusy(a *agent.Agent) agent.Status {
	if len(a.ActivePhases) > 0 {
		return agent.StatusBusy
	}
	return agent.StatusIdle
}

func phaseIDs(a *agent.Agent) []string {
	out := make([]string, 0, len(a.ActivePhases))
	for id := range a.ActivePhases {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
