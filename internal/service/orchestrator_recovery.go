package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/plan"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
	"github.com/Strob0t/swarmcore/internal/domain/scoring"
	"github.com/Strob0t/swarmcore/internal/domain/task"
)

// openRatification starts the consensus gate of a consensus-strategy task.
// s.mu must be held.
func (s *OrchestratorService) openRatification(ctx context.Context, t *task.Task, p *task.Phase) {
	now := s.now()
	p.Status = task.PhaseInProgress
	p.AssignedAt = now
	p.LastProgress = now
	if s.consensus == nil {
		p.Status = task.PhaseFailed
		p.Error = "no consensus engine configured"
		p.CompletedAt = now
		return
	}

	prop, err := s.consensus.CreateProposal(ctx, proposal.CreateRequest{
		Content:  fmt.Sprintf("ratify plan for task %s: %s", t.ID, t.Description),
		Proposer: s.id,
		Strategy: t.Ratification,
		Deadline: now.Add(s.cfg.RatificationTimeout),
	})
	if err != nil {
		slog.Warn("open ratification", "task_id", t.ID, "error", err)
		p.Status = task.PhaseFailed
		p.Error = err.Error()
		p.CompletedAt = now
		return
	}
	p.ProposalID = prop.ID
	s.proposalIndex[prop.ID] = p.ID
	slog.Info("ratification opened", "task_id", t.ID, "proposal_id", prop.ID, "strategy", t.Ratification)
}

// HandleProposalResolved closes the ratification phase bound to a proposal.
// Proposals the orchestrator did not open are ignored.
func (s *OrchestratorService) HandleProposalResolved(ctx context.Context, proposalID string, status proposal.Status) error {
	var fx effects
	s.mu.Lock()
	phaseID, ok := s.proposalIndex[proposalID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	t, p, err := s.lookup(phaseID)
	if err != nil || p.Status.IsTerminal() {
		s.mu.Unlock()
		return err
	}
	delete(s.proposalIndex, proposalID)

	if status == proposal.StatusPassed {
		p.Status = task.PhaseCompleted
		p.CompletedAt = s.now()
		slog.Info("plan ratified", "task_id", t.ID, "proposal_id", proposalID)
		fx.add(func(ctx context.Context) {
			if _, err := s.consensus.ExecuteDecision(ctx, proposalID); err != nil {
				slog.Warn("execute ratification decision", "proposal_id", proposalID, "error", err)
			}
		})
	} else {
		s.failPhase(t, p, fmt.Sprintf("ratification %s", status), nil, &fx)
	}
	s.advance(ctx, t, &fx)
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
	return nil
}

// Rebalance moves assigned-but-unstarted phases off overloaded agents onto
// agents with spare capacity, then retries pending phases. Phases already in
// progress are never moved. It returns the number of phases moved.
func (s *OrchestratorService) Rebalance(ctx context.Context) int {
	var fx effects
	s.mu.Lock()
	before := s.registry.AggregateLoad()
	moved := 0
	touched := make(map[string]*task.Task)

	for _, agentID := range s.registry.Overloaded() {
		a, err := s.registry.Get(agentID)
		if err != nil {
			continue
		}
		held := s.movable(agentID, a)
		for _, p := range held {
			if cur, err := s.registry.Get(agentID); err != nil || !cur.Overloaded() {
				break
			}
			t := s.tasks[s.phaseIndex[p.ID]]
			target := s.moveTarget(t, p, agentID)
			if target == "" {
				continue
			}
			s.registry.Release(agentID, p.ID, agent.OutcomeNone)
			for i, id := range p.AssignedAgents {
				if id == agentID {
					p.AssignedAgents[i] = target
				}
			}
			p.AssignedAt = s.now()
			p.LastProgress = p.AssignedAt
			from, phaseID := agentID, p.ID
			fx.add(func(ctx context.Context) {
				if err := s.runtime.CancelPhase(ctx, from, phaseID); err != nil {
					slog.Warn("cancel moved phase", "agent_id", from, "phase_id", phaseID, "error", err)
				}
			})
			s.dispatch(target, p.Clone(), &fx)
			slog.Info("phase moved", "phase_id", p.ID, "from", agentID, "to", target)
			touched[t.ID] = t
			moved++
		}
	}

	for _, t := range s.tasks {
		if t.Status == task.StatusRunning {
			s.advance(ctx, t, &fx)
			touched[t.ID] = t
		}
	}
	for _, t := range touched {
		s.snapshot(t, &fx)
	}
	after := s.registry.AggregateLoad()
	s.mu.Unlock()

	if moved > 0 {
		s.events.Emit(ctx, event.Event{Type: event.TypeRebalancePerformed}, map[string]any{
			"moved":       moved,
			"load_before": before,
			"load_after":  after,
		})
	}
	fx.run(ctx)
	return moved
}

// movable returns the assigned phases an agent holds, heaviest first.
func (s *OrchestratorService) movable(agentID string, a *agent.Agent) []*task.Phase {
	var out []*task.Phase
	for phaseID := range a.ActivePhases {
		t, p, err := s.lookup(phaseID)
		if err != nil || t.Status.IsTerminal() || p.Status != task.PhaseAssigned {
			continue
		}
		if slices.Contains(p.AssignedAgents, agentID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// moveTarget reserves the best agent that can absorb p without exceeding
// its capacity. s.mu must be held.
func (s *OrchestratorService) moveTarget(t *task.Task, p *task.Phase, from string) string {
	exclude := append(slices.Clone(p.ExcludedAgents), p.AssignedAgents...)
	exclude = append(exclude, from)
	ranked := scoring.Rank(s.registry.Candidates(), p.RequiredCapabilities, s.weightsFor(t.Strategy), exclude, nil)
	for _, r := range ranked {
		if err := s.registry.ReserveWithin(r.AgentID, p.ID, p.Weight); err == nil {
			return r.AgentID
		}
	}
	return ""
}

// RetryPending gives every waiting phase another assignment attempt and
// returns how many ready phases are still unassigned.
func (s *OrchestratorService) RetryPending(ctx context.Context) int {
	var fx effects
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.Status != task.StatusRunning || len(plan.ReadyPhases(t.Phases)) == 0 {
			continue
		}
		s.advance(ctx, t, &fx)
		s.snapshot(t, &fx)
	}
	n := s.pendingLocked()
	s.mu.Unlock()
	fx.run(ctx)
	return n
}

// PendingCount returns the number of ready work phases waiting for an agent.
func (s *OrchestratorService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *OrchestratorService) pendingLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		for _, id := range plan.ReadyPhases(t.Phases) {
			if t.Phase(id).Kind == task.KindWork {
				n++
			}
		}
	}
	return n
}

// NeedsRebalance reports whether the swarm is loaded past the ceiling while
// work waits, or any agent holds more than its capacity.
func (s *OrchestratorService) NeedsRebalance() bool {
	if len(s.registry.Overloaded()) > 0 {
		return true
	}
	return s.registry.AggregateLoad() > s.cfg.LoadCeiling && s.PendingCount() > 0
}

// StalledPhases returns the ids of held phases with no progress within the
// stall threshold.
func (s *OrchestratorService) StalledPhases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for _, t := range s.tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		for i := range t.Phases {
			p := &t.Phases[i]
			if p.Kind != task.KindWork || !p.Status.Active() {
				continue
			}
			if now.Sub(p.LastProgress) > s.cfg.StallThreshold {
				out = append(out, p.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}

// RecoverStalledPhase lowers the health of the agents holding a stalled
// phase and returns the phase to the assignment pool.
func (s *OrchestratorService) RecoverStalledPhase(ctx context.Context, phaseID string) error {
	var fx effects
	s.mu.Lock()
	t, p, err := s.lookup(phaseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !p.Status.Active() {
		s.mu.Unlock()
		return nil
	}

	agents := slices.Clone(p.AssignedAgents)
	p.Status = task.PhaseStalled
	for _, id := range agents {
		s.registry.PenalizeHealth(id, s.cfg.StallPenalty)
	}
	s.unassign(p, agent.OutcomeNone, "", &fx)
	p.ExcludedAgents = appendUnique(p.ExcludedAgents, agents...)
	p.Attempts++
	p.Error = domain.ErrTaskStalled.Error()
	ev := event.Event{Type: event.TypePhaseStalled, TaskID: t.ID, PhaseID: p.ID}
	fx.add(func(ctx context.Context) {
		slog.Warn("phase stalled, requeued", "task_id", ev.TaskID, "phase_id", ev.PhaseID, "agents", agents)
		s.events.Emit(ctx, ev, map[string]any{"agents": agents})
	})
	s.advance(ctx, t, &fx)
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
	return nil
}

// RequeueAgentPhases returns the listed phases held by an offline agent to
// the assignment pool, excluding that agent from them. It returns the number
// of phases requeued.
func (s *OrchestratorService) RequeueAgentPhases(ctx context.Context, agentID string, phaseIDs []string) int {
	var fx effects
	s.mu.Lock()
	n := 0
	touched := make(map[string]*task.Task)
	for _, id := range phaseIDs {
		t, p, err := s.lookup(id)
		if err != nil || !p.Status.Active() || !slices.Contains(p.AssignedAgents, agentID) {
			continue
		}
		s.unassign(p, agent.OutcomeNone, agentID, &fx)
		p.ExcludedAgents = appendUnique(p.ExcludedAgents, agentID)
		p.Attempts++
		p.Error = fmt.Sprintf("agent %s went offline", agentID)
		touched[t.ID] = t
		n++
	}
	for _, t := range touched {
		s.advance(ctx, t, &fx)
		s.snapshot(t, &fx)
	}
	s.mu.Unlock()
	if n > 0 {
		slog.Info("phases requeued", "agent_id", agentID, "count", n)
	}
	fx.run(ctx)
	return n
}

// ReassignPhase takes a phase away from failedAgent (or from all its agents
// when failedAgent is empty) and assigns it to someone else. When nobody
// qualifies the phase stays queued and ErrCapabilityMismatch is returned. A
// phase whose dependencies have not completed keeps the exclusion but stays
// pending until the task reaches it.
func (s *OrchestratorService) ReassignPhase(ctx context.Context, phaseID, failedAgent string) error {
	var fx effects
	s.mu.Lock()
	t, p, err := s.lookup(phaseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if p.Kind != task.KindWork || p.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: phase %s is %s", domain.ErrValidation, phaseID, p.Status)
	}

	excluded := []string{failedAgent}
	if failedAgent == "" {
		excluded = slices.Clone(p.AssignedAgents)
	}
	if p.Status.Active() {
		s.unassign(p, agent.OutcomeNone, "", &fx)
		p.Attempts++
	}
	p.ExcludedAgents = appendUnique(p.ExcludedAgents, excluded...)

	if !plan.Ready(t.Phases, p.ID) {
		s.snapshot(t, &fx)
		s.mu.Unlock()
		fx.run(ctx)
		return fmt.Errorf("%w: phase %s is waiting on its dependencies", domain.ErrValidation, phaseID)
	}
	assigned := s.assign(t, p, &fx)
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
	if !assigned {
		return fmt.Errorf("reassign phase %s: %w", phaseID, domain.ErrCapabilityMismatch)
	}
	return nil
}

// CancelTask stops a task, releasing every agent still holding its phases.
func (s *OrchestratorService) CancelTask(ctx context.Context, id string) error {
	var fx effects
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		s.mu.Unlock()
		if t.Status == task.StatusCancelled {
			return nil
		}
		return fmt.Errorf("%w: task %s is already %s", domain.ErrValidation, id, t.Status)
	}
	for i := range t.Phases {
		if pid := t.Phases[i].ProposalID; pid != "" {
			delete(s.proposalIndex, pid)
		}
	}
	s.cancelRemaining(t, "task cancelled", &fx)
	s.finish(t, task.StatusCancelled, "cancelled", &fx)
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
	return nil
}

// TaskStats counts tasks by status.
func (s *OrchestratorService) TaskStats() map[task.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[task.Status]int)
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out
}
