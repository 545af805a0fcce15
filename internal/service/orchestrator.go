package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	swarmotel "github.com/Strob0t/swarmcore/internal/adapter/otel"

	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/plan"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
	"github.com/Strob0t/swarmcore/internal/domain/scoring"
	"github.com/Strob0t/swarmcore/internal/domain/task"
	"github.com/Strob0t/swarmcore/internal/port/agentruntime"
	"github.com/Strob0t/swarmcore/internal/workpool"
)

// maxOutcomes bounds the outcome history kept for the optimization loop.
const maxOutcomes = 1000

// rosterBonus lifts agents on the task's roster above equally scored outsiders.
const rosterBonus = 0.05

// PhaseOutcome is one finished phase, kept for weight learning.
type PhaseOutcome struct {
	TaskID       string             `json:"task_id"`
	PhaseID      string             `json:"phase_id"`
	Strategy     task.Strategy      `json:"strategy"`
	Coordination string             `json:"coordination,omitempty"`
	Capabilities []string           `json:"capabilities,omitempty"`
	Agents       []string           `json:"agents"`
	Components   scoring.Components `json:"components"`
	Success      bool               `json:"success"`
	Duration     time.Duration      `json:"duration"`
}

// RecoveryPolicy decides whether a phase that failed its checkpoint is
// reassigned instead of failed. It must not call back into the orchestrator.
type RecoveryPolicy func(t *task.Task, p *task.Phase, err error) bool

// SubmitRequest carries a spec plus the coordinator's planning decisions.
type SubmitRequest struct {
	Spec         task.Spec
	Roster       []string
	Coordination string
}

// OrchestratorService turns specs into phased plans, assigns agents, and
// drives phases through checkpoints to task completion.
type OrchestratorService struct {
	cfg       config.Orchestrator
	registry  *RegistryService
	consensus *ConsensusService
	memory    *MemoryService
	runtime   agentruntime.Runtime
	pool      *workpool.Pool
	events    *EventRecorder
	id        string

	mu            sync.Mutex // serializes task advancement
	tasks         map[string]*task.Task
	phaseIndex    map[string]string // phase id -> task id
	proposalIndex map[string]string // ratification proposal id -> phase id
	mismatched    map[string]bool   // phases already reported as capability mismatches
	assignments   map[string]scoring.Components
	weights       map[task.Strategy]scoring.Weights
	outcomes      []PhaseOutcome
	recovery      RecoveryPolicy

	now func() time.Time
}

// NewOrchestratorService creates an OrchestratorService. consensus and memory
// may be nil; a nil runtime accepts every dispatch.
func NewOrchestratorService(
	cfg config.Orchestrator,
	registry *RegistryService,
	consensus *ConsensusService,
	memory *MemoryService,
	runtime agentruntime.Runtime,
	events *EventRecorder,
) *OrchestratorService {
	if runtime == nil {
		runtime = agentruntime.Nop{}
	}
	return &OrchestratorService{
		cfg:           cfg,
		registry:      registry,
		consensus:     consensus,
		memory:        memory,
		runtime:       runtime,
		pool:          workpool.New(cfg.DispatchConcurrency),
		events:        events,
		id:            "orchestrator",
		tasks:         make(map[string]*task.Task),
		phaseIndex:    make(map[string]string),
		proposalIndex: make(map[string]string),
		mismatched:    make(map[string]bool),
		assignments:   make(map[string]scoring.Components),
		weights:       make(map[task.Strategy]scoring.Weights),
		now:           time.Now,
	}
}

// SetRecoveryPolicy installs the hook consulted when a checkpoint fails.
func (s *OrchestratorService) SetRecoveryPolicy(fn RecoveryPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovery = fn
}

// SetScoringWeights replaces the assignment weights for one strategy.
// Weights are normalized when applied.
func (s *OrchestratorService) SetScoringWeights(strategy task.Strategy, w scoring.Weights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[strategy] = w
}

// ScoringWeights returns the assignment weights in use for a strategy.
func (s *OrchestratorService) ScoringWeights(strategy task.Strategy) scoring.Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weightsFor(strategy)
}

func (s *OrchestratorService) weightsFor(strategy task.Strategy) scoring.Weights {
	if w, ok := s.weights[strategy]; ok {
		return w
	}
	return scoring.Default()
}

// SubmitTask validates a spec, plans it, and starts assigning agents.
func (s *OrchestratorService) SubmitTask(ctx context.Context, spec task.Spec) (string, error) {
	t, err := s.Submit(ctx, SubmitRequest{Spec: spec})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// Submit is SubmitTask with a roster and coordination label attached.
func (s *OrchestratorService) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	spec := req.Spec
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	strategy := spec.Strategy
	if strategy == "" {
		strategy = task.StrategyAdaptive
	}
	ratification := spec.Ratification
	if ratification == "" {
		ratification = proposal.StrategySimpleMajority
	}

	t := &task.Task{
		ID:           uuid.New().String(),
		Description:  spec.Description,
		Strategy:     strategy,
		Coordination: req.Coordination,
		Ratification: ratification,
		Roster:       slices.Clone(req.Roster),
		Status:       task.StatusPending,
		CreatedAt:    s.now(),
	}
	if err := s.CreateExecutionPlan(t, &spec); err != nil {
		return nil, err
	}

	var fx effects
	s.mu.Lock()
	t.Status = task.StatusRunning
	s.tasks[t.ID] = t
	for i := range t.Phases {
		s.phaseIndex[t.Phases[i].ID] = t.ID
	}
	s.advance(ctx, t, &fx)
	s.snapshot(t, &fx)
	out := t.Clone()
	s.mu.Unlock()

	slog.Info("task submitted", "task_id", t.ID, "strategy", strategy, "phases", len(t.Phases), "coordination", req.Coordination)
	fx.run(ctx)
	return out, nil
}

// CreateExecutionPlan decomposes spec into t's phases under t.Strategy.
func (s *OrchestratorService) CreateExecutionPlan(t *task.Task, spec *task.Spec) error {
	phases, err := plan.Build(spec, t.Strategy, t.ID, plan.Defaults{
		Weight:     s.cfg.DefaultPhaseWeight,
		AgentCount: 1,
	}, func() string { return uuid.New().String() })
	if err != nil {
		return fmt.Errorf("plan task: %w", err)
	}
	t.Phases = phases
	return nil
}

// AssignAgents tries to assign a pending phase now. It reports whether the
// phase was assigned; an unassigned phase stays pending.
func (s *OrchestratorService) AssignAgents(ctx context.Context, phaseID string) (bool, error) {
	var fx effects
	s.mu.Lock()
	t, p, err := s.lookup(phaseID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if p.Status != task.PhasePending || p.Kind != task.KindWork {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: phase %s is %s", domain.ErrValidation, phaseID, p.Status)
	}
	if !plan.Ready(t.Phases, p.ID) {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: phase %s is waiting on its dependencies", domain.ErrValidation, phaseID)
	}
	ok := s.assign(t, p, &fx)
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
	return ok, nil
}

// advance moves a task forward: it applies the failure rule of its strategy,
// starts every ready phase, and finishes the task once all phases are
// terminal. s.mu must be held.
func (s *OrchestratorService) advance(ctx context.Context, t *task.Task, fx *effects) {
	if t.Status.IsTerminal() {
		return
	}

	if plan.AnyFailed(t.Phases) {
		if t.Strategy == task.StrategySequential {
			s.cancelRemaining(t, "upstream phase failed", fx)
			s.finish(t, task.StatusFailed, failedPhaseError(t), fx)
			return
		}
		s.cancelBlocked(t)
	}

	for _, id := range plan.ReadyPhases(t.Phases) {
		p := t.Phase(id)
		if p.Kind == task.KindRatification {
			s.openRatification(ctx, t, p)
			continue
		}
		s.assign(t, p, fx)
	}

	if plan.AllTerminal(t.Phases) {
		if plan.AnyFailed(t.Phases) {
			s.finish(t, task.StatusFailed, failedPhaseError(t), fx)
		} else {
			s.finish(t, task.StatusCompleted, "", fx)
		}
	}
}

// assign scores candidates and reserves the best ones for p. The caller
// checks that p is ready. s.mu must be held.
func (s *OrchestratorService) assign(t *task.Task, p *task.Phase, fx *effects) bool {
	candidates := s.registry.Candidates()
	ranked := scoring.Rank(candidates, p.RequiredCapabilities, s.weightsFor(t.Strategy), p.ExcludedAgents, func(id string) float64 {
		if slices.Contains(t.Roster, id) {
			return rosterBonus
		}
		return 0
	})

	// Agents the phase fits under capacity come first; overshoot only when
	// nobody has room.
	need := max(p.AgentCount, 1)
	chosen := make([]string, 0, need)
	var comps []scoring.Components
	for _, reserve := range []func(id, phaseID string, weight float64) error{s.registry.ReserveWithin, s.registry.Reserve} {
		for _, r := range ranked {
			if len(chosen) == need {
				break
			}
			if slices.Contains(chosen, r.AgentID) {
				continue
			}
			if err := reserve(r.AgentID, p.ID, p.Weight); err != nil {
				continue
			}
			chosen = append(chosen, r.AgentID)
			comps = append(comps, r.Components)
		}
	}

	if len(chosen) < need {
		for _, id := range chosen {
			s.registry.Release(id, p.ID, agent.OutcomeNone)
		}
		if !s.mismatched[p.ID] && !scoring.Capable(s.registry.List(), p.RequiredCapabilities) {
			s.mismatched[p.ID] = true
			ev := event.Event{Type: event.TypeCapabilityMismatch, TaskID: t.ID, PhaseID: p.ID}
			caps := slices.Clone(p.RequiredCapabilities)
			fx.add(func(ctx context.Context) {
				slog.Warn("no agent has the required capabilities, phase queued", "task_id", ev.TaskID, "phase_id", ev.PhaseID, "capabilities", caps)
				s.events.Emit(ctx, ev, map[string]any{"capabilities": caps})
			})
		}
		return false
	}

	now := s.now()
	delete(s.mismatched, p.ID)
	p.AssignedAgents = chosen
	p.Status = task.PhaseAssigned
	p.AssignedAt = now
	p.LastProgress = now
	s.assignments[p.ID] = averageComponents(comps)

	phase := p.Clone()
	fx.add(func(ctx context.Context) {
		slog.Info("phase assigned", "task_id", phase.TaskID, "phase_id", phase.ID, "name", phase.Name, "agents", phase.AssignedAgents)
		s.events.Emit(ctx, event.Event{Type: event.TypePhaseAssigned, TaskID: phase.TaskID, PhaseID: phase.ID}, map[string]any{
			"agents": phase.AssignedAgents,
			"weight": phase.Weight,
		})
	})
	for _, agentID := range chosen {
		s.dispatch(agentID, phase, fx)
	}
	return true
}

// dispatch hands a phase to the agent runtime on the bounded pool. A failed
// delivery puts the phase back in the pool.
func (s *OrchestratorService) dispatch(agentID string, phase task.Phase, fx *effects) {
	fx.add(func(ctx context.Context) {
		s.pool.Go(ctx, "assign-phase", func(ctx context.Context) error {
			ctx, span := swarmotel.StartAssignSpan(ctx, phase.TaskID, phase.ID)
			defer span.End()
			span.SetAttributes(attribute.String("agent.id", agentID))
			err := s.runtime.AssignPhase(ctx, agentID, &phase)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}, func(err error) {
			s.dispatchFailed(ctx, phase.ID, agentID, err)
		})
	})
}

func (s *OrchestratorService) dispatchFailed(ctx context.Context, phaseID, agentID string, err error) {
	slog.Warn("phase dispatch failed, requeueing", "phase_id", phaseID, "agent_id", agentID, "error", err)
	var fx effects
	s.mu.Lock()
	t, p, lerr := s.lookup(phaseID)
	if lerr != nil || !p.Status.Active() || !slices.Contains(p.AssignedAgents, agentID) {
		s.mu.Unlock()
		return
	}
	s.unassign(p, agent.OutcomeNone, "", &fx)
	p.Attempts++
	p.Error = err.Error()
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
}

// ReportProgress records that an agent is working on a phase.
func (s *OrchestratorService) ReportProgress(_ context.Context, phaseID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, p, err := s.lookup(phaseID)
	if err != nil {
		return err
	}
	if !p.Status.Active() {
		return fmt.Errorf("%w: phase %s is %s", domain.ErrValidation, phaseID, p.Status)
	}
	if agentID != "" && !slices.Contains(p.AssignedAgents, agentID) {
		return fmt.Errorf("%w: agent %s is not assigned to phase %s", domain.ErrValidation, agentID, phaseID)
	}
	p.Status = task.PhaseInProgress
	p.LastProgress = s.now()
	return nil
}

// EvaluateCheckpoint applies a phase's criteria to a report. A phase that
// meets every threshold completes; otherwise it fails with a
// *task.CheckpointError unless the recovery policy reassigns it. The failure
// cascades to dependents in sequential plans and stays isolated otherwise.
func (s *OrchestratorService) EvaluateCheckpoint(ctx context.Context, phaseID string, report task.Report) error {
	var fx effects
	s.mu.Lock()
	t, p, err := s.lookup(phaseID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if p.Kind != task.KindWork || !p.Status.Active() {
		s.mu.Unlock()
		return fmt.Errorf("%w: phase %s is %s", domain.ErrValidation, phaseID, p.Status)
	}
	if report.AgentID != "" && !slices.Contains(p.AssignedAgents, report.AgentID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: agent %s is not assigned to phase %s", domain.ErrValidation, report.AgentID, phaseID)
	}

	p.Status = task.PhaseCheckpoint
	shortfalls := p.Criteria.Evaluate(report)
	if len(shortfalls) == 0 {
		s.recordOutcome(t, p, true)
		s.unassign(p, agent.OutcomeSuccess, "", &fx)
		p.Status = task.PhaseCompleted
		p.CompletedAt = s.now()
		p.Error = ""
		slog.Info("phase completed", "task_id", t.ID, "phase_id", p.ID, "name", p.Name)
		s.advance(ctx, t, &fx)
		s.snapshot(t, &fx)
		s.mu.Unlock()
		fx.run(ctx)
		return nil
	}

	cerr := &task.CheckpointError{PhaseID: p.ID, Shortfalls: shortfalls}
	s.recordOutcome(t, p, false)
	failedAgents := slices.Clone(p.AssignedAgents)

	if s.shouldRetry(t, p, cerr) {
		s.unassign(p, agent.OutcomeFailure, "", &fx)
		p.ExcludedAgents = appendUnique(p.ExcludedAgents, failedAgents...)
		p.Attempts++
		p.Error = cerr.Error()
		slog.Info("checkpoint failed, reassigning phase", "task_id", t.ID, "phase_id", p.ID, "attempt", p.Attempts, "excluded", p.ExcludedAgents)
	} else {
		s.unassign(p, agent.OutcomeFailure, "", &fx)
		s.failPhase(t, p, cerr.Error(), failedAgents, &fx)
	}
	s.advance(ctx, t, &fx)
	s.snapshot(t, &fx)
	s.mu.Unlock()
	fx.run(ctx)
	return cerr
}

func (s *OrchestratorService) shouldRetry(t *task.Task, p *task.Phase, err error) bool {
	if s.recovery == nil || p.Attempts >= s.cfg.MaxPhaseRetries {
		return false
	}
	return s.recovery(t.Clone(), ptr(p.Clone()), err)
}

// failPhase marks p failed and reports it. s.mu must be held.
func (s *OrchestratorService) failPhase(t *task.Task, p *task.Phase, reason string, agents []string, fx *effects) {
	p.Status = task.PhaseFailed
	p.Error = reason
	p.CompletedAt = s.now()
	ev := event.Event{Type: event.TypePhaseFailed, TaskID: t.ID, PhaseID: p.ID}
	name := p.Name
	fx.add(func(ctx context.Context) {
		slog.Info("phase failed", "task_id", ev.TaskID, "phase_id", ev.PhaseID, "name", name, "reason", reason)
		s.events.Emit(ctx, ev, map[string]any{"reason": reason, "agents": agents})
	})
}

// unassign releases every agent holding p and returns it to pending. s.mu must be held.
func (s *OrchestratorService) unassign(p *task.Phase, outcome agent.Outcome, skipCancel string, fx *effects) {
	for _, id := range p.AssignedAgents {
		s.registry.Release(id, p.ID, outcome)
		if id == skipCancel || outcome == agent.OutcomeSuccess {
			continue
		}
		agentID, phaseID := id, p.ID
		fx.add(func(ctx context.Context) {
			if err := s.runtime.CancelPhase(ctx, agentID, phaseID); err != nil {
				slog.Warn("cancel phase on runtime", "agent_id", agentID, "phase_id", phaseID, "error", err)
			}
		})
	}
	delete(s.assignments, p.ID)
	p.AssignedAgents = nil
	p.Status = task.PhasePending
}

// cancelRemaining cancels every non-terminal phase. s.mu must be held.
func (s *OrchestratorService) cancelRemaining(t *task.Task, reason string, fx *effects) {
	for i := range t.Phases {
		p := &t.Phases[i]
		if p.Status.IsTerminal() {
			continue
		}
		if p.Status.Active() {
			s.unassign(p, agent.OutcomeNone, "", fx)
		}
		p.Status = task.PhaseCancelled
		p.Error = reason
		p.CompletedAt = s.now()
	}
}

// cancelBlocked cancels pending phases that can no longer run because a
// dependency failed or was cancelled. s.mu must be held.
func (s *OrchestratorService) cancelBlocked(t *task.Task) {
	for changed := true; changed; {
		changed = false
		for i := range t.Phases {
			p := &t.Phases[i]
			if p.Status == task.PhasePending && plan.Blocked(t.Phases, p.ID) {
				p.Status = task.PhaseCancelled
				p.Error = "dependency did not complete"
				p.CompletedAt = s.now()
				changed = true
			}
		}
	}
}

// finish moves a task to its terminal state and records the result. s.mu must be held.
func (s *OrchestratorService) finish(t *task.Task, status task.Status, reason string, fx *effects) {
	t.Status = status
	t.Error = reason
	t.CompletedAt = s.now()

	typ := event.TypeTaskCompleted
	switch status {
	case task.StatusFailed:
		typ = event.TypeTaskFailed
	case task.StatusCancelled:
		typ = event.TypeTaskCancelled
	}
	summary := taskSummary(t)
	ev := event.Event{Type: typ, TaskID: t.ID}
	fx.add(func(ctx context.Context) {
		slog.Info("task finished", "task_id", ev.TaskID, "status", status, "reason", reason)
		s.events.Emit(ctx, ev, summary)
		s.put(ctx, knowledge.PartitionResults, "tasks/"+ev.TaskID, summary, "task_result", string(status))
	})
}

func (s *OrchestratorService) recordOutcome(t *task.Task, p *task.Phase, success bool) {
	s.outcomes = append(s.outcomes, PhaseOutcome{
		TaskID:       t.ID,
		PhaseID:      p.ID,
		Strategy:     t.Strategy,
		Coordination: t.Coordination,
		Capabilities: slices.Clone(p.RequiredCapabilities),
		Agents:       slices.Clone(p.AssignedAgents),
		Components:   s.assignments[p.ID],
		Success:      success,
		Duration:     s.now().Sub(p.AssignedAt),
	})
	if n := len(s.outcomes); n > maxOutcomes {
		s.outcomes = slices.Clone(s.outcomes[n-maxOutcomes:])
	}
}

// DrainOutcomes returns and clears the finished-phase history.
func (s *OrchestratorService) DrainOutcomes() []PhaseOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outcomes
	s.outcomes = nil
	return out
}

// GetTask returns a copy of a task.
func (s *OrchestratorService) GetTask(id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

// ListTasks returns copies of every task, oldest first.
func (s *OrchestratorService) ListTasks() []*task.Task {
	s.mu.Lock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until every in-flight runtime dispatch has returned.
func (s *OrchestratorService) Wait() {
	s.pool.Wait()
}

func (s *OrchestratorService) lookup(phaseID string) (*task.Task, *task.Phase, error) {
	taskID, ok := s.phaseIndex[phaseID]
	if !ok {
		return nil, nil, fmt.Errorf("phase %s: %w", phaseID, domain.ErrNotFound)
	}
	t := s.tasks[taskID]
	return t, t.Phase(phaseID), nil
}

// snapshot writes the task's current state to the state partition once the
// lock is released.
func (s *OrchestratorService) snapshot(t *task.Task, fx *effects) {
	if s.memory == nil {
		return
	}
	c := t.Clone()
	fx.add(func(ctx context.Context) {
		s.put(ctx, knowledge.PartitionState, "tasks/"+c.ID, c, "task", string(c.Status))
	})
}

func (s *OrchestratorService) put(ctx context.Context, partition knowledge.Partition, key string, value any, typ string, tags ...string) {
	if s.memory == nil {
		return
	}
	if _, _, err := s.memory.Put(ctx, knowledge.PutRequest{
		Partition: partition,
		Key:       key,
		Value:     value,
		Type:      typ,
		Owner:     s.id,
		Tags:      tags,
	}); err != nil {
		slog.Warn("record task state", "key", key, "error", err)
	}
}

// effects are side effects collected under the lock and run after it is released.
type effects []func(context.Context)

func (e *effects) add(fn func(context.Context)) { *e = append(*e, fn) }

func (e effects) run(ctx context.Context) {
	for _, fn := range e {
		fn(ctx)
	}
}

func failedPhaseError(t *task.Task) string {
	for i := range t.Phases {
		if t.Phases[i].Status == task.PhaseFailed {
			return fmt.Sprintf("phase %q failed: %s", t.Phases[i].Name, t.Phases[i].Error)
		}
	}
	return ""
}

func taskSummary(t *task.Task) map[string]any {
	phases := make(map[string]task.PhaseStatus, len(t.Phases))
	for i := range t.Phases {
		phases[t.Phases[i].Name] = t.Phases[i].Status
	}
	return map[string]any{
		"task_id":      t.ID,
		"description":  t.Description,
		"strategy":     t.Strategy,
		"coordination": t.Coordination,
		"status":       t.Status,
		"error":        t.Error,
		"phases":       phases,
		"duration_ms":  t.CompletedAt.Sub(t.CreatedAt).Milliseconds(),
	}
}

func averageComponents(cs []scoring.Components) scoring.Components {
	if len(cs) == 0 {
		return scoring.Components{}
	}
	var m scoring.Components
	for _, c := range cs {
		m.Capability += c.Capability
		m.Health += c.Health
		m.Success += c.Success
		m.Load += c.Load
	}
	n := float64(len(cs))
	return scoring.Components{Capability: m.Capability / n, Health: m.Health / n, Success: m.Success / n, Load: m.Load / n}
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

func ptr[T any](v T) *T { return &v }
