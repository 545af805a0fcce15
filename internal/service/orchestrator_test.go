package service_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
	"github.com/Strob0t/swarmcore/internal/domain/task"
	"github.com/Strob0t/swarmcore/internal/service"
)

// recordingRuntime records dispatches instead of reaching real agents.
type recordingRuntime struct {
	mu        sync.Mutex
	assigned  map[string][]string
	cancelled []string
	fail      bool
}

func (r *recordingRuntime) AssignPhase(_ context.Context, agentID string, p *task.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("runtime unavailable")
	}
	if r.assigned == nil {
		r.assigned = map[string][]string{}
	}
	r.assigned[p.ID] = append(r.assigned[p.ID], agentID)
	return nil
}

func (r *recordingRuntime) CancelPhase(_ context.Context, agentID, phaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, agentID+"/"+phaseID)
	return nil
}

type orchFixture struct {
	orch *service.OrchestratorService
	reg  *service.RegistryService
	hub  *recordingHub
	rt   *recordingRuntime
}

func newOrchestrator(t *testing.T) *orchFixture {
	t.Helper()
	hub := &recordingHub{}
	rec := service.NewEventRecorder(hub, nil)
	reg := service.NewRegistryService(rec)
	rt := &recordingRuntime{}
	orch := service.NewOrchestratorService(config.Defaults().Orchestrator, reg, nil, nil, rt, rec)
	t.Cleanup(orch.Wait)
	return &orchFixture{orch: orch, reg: reg, hub: hub, rt: rt}
}

func (f *orchFixture) submit(t *testing.T, spec task.Spec) *task.Task {
	t.Helper()
	id, err := f.orch.SubmitTask(context.Background(), spec)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return f.task(t, id)
}

func (f *orchFixture) task(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := f.orch.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func phaseByName(t *testing.T, tk *task.Task, name string) *task.Phase {
	t.Helper()
	for i := range tk.Phases {
		if tk.Phases[i].Name == name {
			return &tk.Phases[i]
		}
	}
	t.Fatalf("phase %q not found", name)
	return nil
}

func pass() task.Report {
	return task.Report{Completeness: 1, Accuracy: 1, Feasibility: 1, Performance: 1}
}

func threeStepSpec() task.Spec {
	return task.Spec{
		Description: "ship login feature",
		Strategy:    task.StrategySequential,
		Phases: []task.PhaseSpec{
			{Name: "design", RequiredCapabilities: []string{"design"}},
			{Name: "implement", RequiredCapabilities: []string{"implementation"}, Criteria: task.Criteria{Accuracy: 0.9}},
			{Name: "test", RequiredCapabilities: []string{"testing"}},
		},
	}
}

func TestOrchestrator_SequentialCheckpointFailure(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "a1", agent.RoleArchitect)
	register(t, f.reg, "w1", agent.RoleWorker)
	register(t, f.reg, "g1", agent.RoleGuardian)

	tk := f.submit(t, threeStepSpec())
	design := phaseByName(t, tk, "design")
	if design.Status != task.PhaseAssigned || !slices.Equal(design.AssignedAgents, []string{"a1"}) {
		t.Fatalf("design should be assigned to a1, got %s %v", design.Status, design.AssignedAgents)
	}
	if phaseByName(t, tk, "implement").Status != task.PhasePending {
		t.Fatal("implement must wait for design")
	}

	if err := f.orch.EvaluateCheckpoint(ctx, design.ID, pass()); err != nil {
		t.Fatal(err)
	}
	tk = f.task(t, tk.ID)
	impl := phaseByName(t, tk, "implement")
	if impl.Status != task.PhaseAssigned || impl.AssignedAgents[0] != "w1" {
		t.Fatalf("implement should start after design, got %s %v", impl.Status, impl.AssignedAgents)
	}

	report := pass()
	report.Accuracy = 0.5
	err := f.orch.EvaluateCheckpoint(ctx, impl.ID, report)
	var cerr *task.CheckpointError
	if !errors.As(err, &cerr) || !errors.Is(err, domain.ErrCheckpointFailed) {
		t.Fatalf("expected CheckpointError, got %v", err)
	}
	if len(cerr.Shortfalls) != 1 || cerr.Shortfalls[0].Criterion != task.CriterionAccuracy {
		t.Fatalf("expected accuracy shortfall, got %+v", cerr.Shortfalls)
	}

	tk = f.task(t, tk.ID)
	if tk.Status != task.StatusFailed {
		t.Fatalf("expected task failed, got %s", tk.Status)
	}
	if got := phaseByName(t, tk, "test").Status; got != task.PhaseCancelled {
		t.Fatalf("test phase must never start, got %s", got)
	}
	if f.hub.count(event.TypeTaskFailed) != 1 || f.hub.count(event.TypePhaseFailed) != 1 {
		t.Fatal("expected one phase_failed and one task_failed event")
	}
	w1, _ := f.reg.Get("w1")
	if w1.Load != 0 || w1.SuccessRate() != 0 {
		t.Fatalf("w1 should be released with a failure recorded, got load %.2f rate %.2f", w1.Load, w1.SuccessRate())
	}
}

func TestOrchestrator_RecoveryPolicyReassigns(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)
	register(t, f.reg, "w2", agent.RoleWorker)
	f.orch.SetRecoveryPolicy(func(*task.Task, *task.Phase, error) bool { return true })

	tk := f.submit(t, task.Spec{
		Description: "one step",
		Strategy:    task.StrategySequential,
		Phases:      []task.PhaseSpec{{Name: "build", RequiredCapabilities: []string{"implementation"}, Criteria: task.Criteria{Completeness: 0.8}}},
	})
	p := tk.Phases[0]
	first := p.AssignedAgents[0]

	if err := f.orch.EvaluateCheckpoint(ctx, p.ID, task.Report{Completeness: 0.2}); err == nil {
		t.Fatal("expected checkpoint error")
	}
	tk = f.task(t, tk.ID)
	p = tk.Phases[0]
	if tk.Status != task.StatusRunning || p.Status != task.PhaseAssigned {
		t.Fatalf("phase should be reassigned, got task %s phase %s", tk.Status, p.Status)
	}
	if p.AssignedAgents[0] == first || !slices.Contains(p.ExcludedAgents, first) || p.Attempts != 1 {
		t.Fatalf("phase should move away from %s, got %+v", first, p)
	}

	if err := f.orch.EvaluateCheckpoint(ctx, p.ID, pass()); err != nil {
		t.Fatal(err)
	}
	if got := f.task(t, tk.ID).Status; got != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if n := len(f.orch.DrainOutcomes()); n != 2 {
		t.Fatalf("expected two outcomes (one failure, one success), got %d", n)
	}
}

func TestOrchestrator_AdaptiveIsolatesFailure(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)
	register(t, f.reg, "w2", agent.RoleWorker)
	register(t, f.reg, "w3", agent.RoleWorker)

	tk := f.submit(t, task.Spec{
		Description: "data pipeline",
		Strategy:    task.StrategyAdaptive,
		Phases: []task.PhaseSpec{
			{Name: "extract", RequiredCapabilities: []string{"implementation"}, Outputs: []string{"rows"}, Criteria: task.Criteria{Accuracy: 0.9}},
			{Name: "load", RequiredCapabilities: []string{"implementation"}, Inputs: []string{"rows"}},
			{Name: "docs", RequiredCapabilities: []string{"implementation"}},
		},
	})
	if phaseByName(t, tk, "load").Status != task.PhasePending {
		t.Fatal("load consumes extract's output and must wait")
	}
	if phaseByName(t, tk, "docs").Status != task.PhaseAssigned {
		t.Fatal("docs is independent and should start immediately")
	}

	_ = f.orch.EvaluateCheckpoint(ctx, phaseByName(t, tk, "extract").ID, task.Report{Accuracy: 0.1})
	tk = f.task(t, tk.ID)
	if phaseByName(t, tk, "load").Status != task.PhaseCancelled {
		t.Fatal("dependent of a failed phase should be cancelled")
	}
	if tk.Status != task.StatusRunning || phaseByName(t, tk, "docs").Status != task.PhaseAssigned {
		t.Fatal("independent phase must keep running after a sibling fails")
	}

	if err := f.orch.EvaluateCheckpoint(ctx, phaseByName(t, tk, "docs").ID, pass()); err != nil {
		t.Fatal(err)
	}
	if got := f.task(t, tk.ID).Status; got != task.StatusFailed {
		t.Fatalf("task with a failed phase ends failed, got %s", got)
	}
}

func TestOrchestrator_CapabilityMismatchQueues(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)

	tk := f.submit(t, task.Spec{
		Description: "exotic",
		Phases:      []task.PhaseSpec{{Name: "solve", RequiredCapabilities: []string{"quantum"}}},
	})
	if tk.Phases[0].Status != task.PhasePending {
		t.Fatalf("unmatched phase should stay pending, got %s", tk.Phases[0].Status)
	}
	if f.orch.RetryPending(ctx) != 1 {
		t.Fatal("expected one pending phase after retry")
	}
	if f.hub.count(event.TypeCapabilityMismatch) != 1 {
		t.Fatalf("mismatch should be reported once, got %d", f.hub.count(event.TypeCapabilityMismatch))
	}

	register(t, f.reg, "q1", agent.RoleScout, "quantum")
	if f.orch.RetryPending(ctx) != 0 {
		t.Fatal("phase should be assigned once a capable agent joins")
	}
	if got := f.task(t, tk.ID).Phases[0].AssignedAgents; !slices.Equal(got, []string{"q1"}) {
		t.Fatalf("expected q1, got %v", got)
	}
}

func TestOrchestrator_RequeueOfflineAgent(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)

	tk := f.submit(t, task.Spec{
		Description: "three chunks",
		Strategy:    task.StrategyParallel,
		Phases: []task.PhaseSpec{
			{Name: "a", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
			{Name: "b", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
			{Name: "c", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
		},
	})
	for _, p := range tk.Phases {
		if p.Status != task.PhaseAssigned {
			t.Fatalf("all phases should land on w1, %s is %s", p.Name, p.Status)
		}
	}

	held, err := f.reg.MarkOffline(ctx, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if n := f.orch.RequeueAgentPhases(ctx, "w1", held); n != 3 {
		t.Fatalf("expected 3 phases requeued, got %d", n)
	}
	tk = f.task(t, tk.ID)
	for _, p := range tk.Phases {
		if p.Status != task.PhasePending || !slices.Contains(p.ExcludedAgents, "w1") {
			t.Fatalf("phase %s should be pending and exclude w1, got %+v", p.Name, p)
		}
	}

	register(t, f.reg, "w2", agent.RoleWorker)
	if left := f.orch.RetryPending(ctx); left != 0 {
		t.Fatalf("expected every phase reassigned, %d left", left)
	}
	for _, p := range f.task(t, tk.ID).Phases {
		if !slices.Equal(p.AssignedAgents, []string{"w2"}) {
			t.Fatalf("phase %s should move to w2, got %v", p.Name, p.AssignedAgents)
		}
	}
}

func TestOrchestrator_Rebalance(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)

	tk := f.submit(t, task.Spec{
		Description: "burst",
		Strategy:    task.StrategyParallel,
		Phases: []task.PhaseSpec{
			{Name: "a", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
			{Name: "b", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
			{Name: "c", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
		},
	})
	started := phaseByName(t, tk, "a")
	if err := f.orch.ReportProgress(ctx, started.ID, "w1"); err != nil {
		t.Fatal(err)
	}

	register(t, f.reg, "w2", agent.RoleWorker)
	if !f.orch.NeedsRebalance() {
		t.Fatal("w1 holds 1.2 against capacity 1.0")
	}
	if moved := f.orch.Rebalance(ctx); moved != 1 {
		t.Fatalf("expected one phase moved, got %d", moved)
	}
	f.orch.Wait()

	w1, _ := f.reg.Get("w1")
	w2, _ := f.reg.Get("w2")
	if w1.Overloaded() || w2.Overloaded() {
		t.Fatalf("no agent should exceed capacity, w1 %.2f w2 %.2f", w1.Load, w2.Load)
	}
	tk = f.task(t, tk.ID)
	if a := phaseByName(t, tk, "a"); a.Status != task.PhaseInProgress || a.AssignedAgents[0] != "w1" {
		t.Fatal("in-progress phases are never moved")
	}
	if f.hub.count(event.TypeRebalancePerformed) != 1 {
		t.Fatal("expected rebalance_performed event")
	}
	if f.orch.NeedsRebalance() {
		t.Fatal("load is within bounds after rebalancing")
	}
}

func TestOrchestrator_StalledPhaseRecovery(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)
	register(t, f.reg, "w2", agent.RoleWorker)

	base := time.Now()
	f.orch.SetNow(func() time.Time { return base })
	tk := f.submit(t, task.Spec{Description: "slow", Phases: []task.PhaseSpec{{Name: "work", RequiredCapabilities: []string{"implementation"}}}})
	first := tk.Phases[0].AssignedAgents[0]

	if len(f.orch.StalledPhases()) != 0 {
		t.Fatal("fresh assignment is not stalled")
	}
	f.orch.SetNow(func() time.Time { return base.Add(3 * time.Minute) })
	stalled := f.orch.StalledPhases()
	if len(stalled) != 1 || stalled[0] != tk.Phases[0].ID {
		t.Fatalf("expected the phase to be stalled, got %v", stalled)
	}

	if err := f.orch.RecoverStalledPhase(ctx, stalled[0]); err != nil {
		t.Fatal(err)
	}
	a, _ := f.reg.Get(first)
	if a.Health > 0.91 || a.Load != 0 {
		t.Fatalf("stalled agent should be penalized and released, got health %.2f load %.2f", a.Health, a.Load)
	}
	p := f.task(t, tk.ID).Phases[0]
	if p.Status != task.PhaseAssigned || p.AssignedAgents[0] == first {
		t.Fatalf("phase should be reassigned away from %s, got %+v", first, p)
	}
	if f.hub.count(event.TypePhaseStalled) != 1 {
		t.Fatal("expected phase_stalled event")
	}
}

func TestOrchestrator_ReassignPhase(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)
	register(t, f.reg, "w2", agent.RoleWorker)

	tk := f.submit(t, task.Spec{Description: "help", Phases: []task.PhaseSpec{{Name: "work", RequiredCapabilities: []string{"implementation"}}}})
	p := tk.Phases[0]
	holder := p.AssignedAgents[0]
	other := "w2"
	if holder == "w2" {
		other = "w1"
	}

	if err := f.orch.ReassignPhase(ctx, p.ID, holder); err != nil {
		t.Fatal(err)
	}
	if got := f.task(t, tk.ID).Phases[0].AssignedAgents; !slices.Equal(got, []string{other}) {
		t.Fatalf("expected %s, got %v", other, got)
	}

	err := f.orch.ReassignPhase(ctx, p.ID, other)
	if !errors.Is(err, domain.ErrCapabilityMismatch) {
		t.Fatalf("expected ErrCapabilityMismatch with every agent excluded, got %v", err)
	}
	if got := f.task(t, tk.ID).Phases[0].Status; got != task.PhasePending {
		t.Fatalf("phase should stay queued, got %s", got)
	}

	if err := f.orch.ReassignPhase(ctx, "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrchestrator_DependenciesGateAssignment(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	for id, role := range map[string]agent.Role{"a1": agent.RoleArchitect, "w1": agent.RoleWorker, "w2": agent.RoleWorker, "g1": agent.RoleGuardian, "g2": agent.RoleGuardian} {
		register(t, f.reg, id, role)
	}

	tk := f.submit(t, threeStepSpec())
	design, impl, last := phaseByName(t, tk, "design"), phaseByName(t, tk, "implement"), phaseByName(t, tk, "test")

	if err := f.orch.ReassignPhase(ctx, last.ID, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("reassigning a blocked phase: got %v, want ErrValidation", err)
	}
	ok, err := f.orch.AssignAgents(ctx, impl.ID)
	if ok || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("AssignAgents on a blocked phase = (%v, %v)", ok, err)
	}
	f.orch.Wait()

	tk = f.task(t, tk.ID)
	for _, name := range []string{"implement", "test"} {
		if p := phaseByName(t, tk, name); p.Status != task.PhasePending || len(p.AssignedAgents) != 0 {
			t.Fatalf("%s started before its predecessor completed: %s %v", name, p.Status, p.AssignedAgents)
		}
	}
	f.rt.mu.Lock()
	dispatched := len(f.rt.assigned[impl.ID]) + len(f.rt.assigned[last.ID])
	f.rt.mu.Unlock()
	if dispatched != 0 {
		t.Fatal("blocked phases must not reach the runtime")
	}

	if err := f.orch.EvaluateCheckpoint(ctx, design.ID, pass()); err != nil {
		t.Fatal(err)
	}
	tk = f.task(t, tk.ID)
	if p := phaseByName(t, tk, "implement"); p.Status != task.PhaseAssigned {
		t.Fatalf("implement should start once design completes, got %s", p.Status)
	}
	if p := phaseByName(t, tk, "test"); p.Status != task.PhasePending {
		t.Fatalf("test still waits for implement, got %s", p.Status)
	}
}

func TestOrchestrator_AssignPrefersRoomOverOvershoot(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)
	register(t, f.reg, "w2", agent.RoleWorker)
	if err := f.reg.Heartbeat(ctx, "w2", agent.StatusError, 0); err != nil {
		t.Fatal(err)
	}

	tk := f.submit(t, task.Spec{
		Description: "fill w1",
		Strategy:    task.StrategyParallel,
		Phases: []task.PhaseSpec{
			{Name: "a", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
			{Name: "b", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
			{Name: "small", RequiredCapabilities: []string{"implementation"}, Weight: 0.2},
			{Name: "waiting", RequiredCapabilities: []string{"implementation"}, Weight: 0.4},
		},
	})
	if p := phaseByName(t, tk, "waiting"); p.Status != task.PhasePending {
		t.Fatalf("w1 is full, waiting should queue, got %s %v", p.Status, p.AssignedAgents)
	}

	// w2 comes back weak but idle; w1 still outranks it on health.
	if err := f.reg.Heartbeat(ctx, "w2", agent.StatusIdle, 0); err != nil {
		t.Fatal(err)
	}
	f.reg.PenalizeHealth("w2", 0.9)
	if err := f.orch.EvaluateCheckpoint(ctx, phaseByName(t, tk, "small").ID, pass()); err != nil {
		t.Fatal(err)
	}

	tk = f.task(t, tk.ID)
	if p := phaseByName(t, tk, "waiting"); !slices.Equal(p.AssignedAgents, []string{"w2"}) {
		t.Fatalf("waiting should go to w2 which has room, got %v", p.AssignedAgents)
	}
	f.orch.Rebalance(ctx)
	for _, id := range []string{"w1", "w2"} {
		if a, _ := f.reg.Get(id); a.Overloaded() {
			t.Fatalf("%s over capacity (%.2f) while another matching agent has room", id, a.Load)
		}
	}
}

func TestOrchestrator_DispatchFailureRequeues(t *testing.T) {
	f := newOrchestrator(t)
	f.rt.fail = true
	register(t, f.reg, "w1", agent.RoleWorker)

	tk := f.submit(t, task.Spec{Description: "unreachable", Phases: []task.PhaseSpec{{Name: "work"}}})
	f.orch.Wait()

	p := f.task(t, tk.ID).Phases[0]
	if p.Status != task.PhasePending || p.Attempts != 1 {
		t.Fatalf("failed delivery should requeue the phase, got %s attempts %d", p.Status, p.Attempts)
	}
	if a, _ := f.reg.Get("w1"); a.Load != 0 {
		t.Fatal("reservation should be released")
	}
}

func TestOrchestrator_CancelTask(t *testing.T) {
	f := newOrchestrator(t)
	ctx := context.Background()
	register(t, f.reg, "w1", agent.RoleWorker)

	tk := f.submit(t, task.Spec{Description: "abort me", Phases: []task.PhaseSpec{{Name: "work"}, {Name: "more"}}})
	if err := f.orch.CancelTask(ctx, tk.ID); err != nil {
		t.Fatal(err)
	}
	tk = f.task(t, tk.ID)
	if tk.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", tk.Status)
	}
	for _, p := range tk.Phases {
		if p.Status != task.PhaseCancelled {
			t.Fatalf("phase %s should be cancelled, got %s", p.Name, p.Status)
		}
	}
	if a, _ := f.reg.Get("w1"); a.Load != 0 || a.Status != agent.StatusIdle {
		t.Fatal("agent should be released")
	}
	if len(f.rt.cancelled) != 2 {
		t.Fatalf("runtime should be told to stop both phases, got %v", f.rt.cancelled)
	}

	if err := f.orch.CancelTask(ctx, tk.ID); err != nil {
		t.Fatalf("cancelling twice is a no-op, got %v", err)
	}
	if err := f.orch.CancelTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	f := newOrchestrator(t)
	tests := []struct {
		name string
		spec task.Spec
	}{
		{"empty description", task.Spec{Phases: []task.PhaseSpec{{Name: "a"}}}},
		{"no phases", task.Spec{Description: "d"}},
		{"adaptive cycle", task.Spec{Description: "d", Strategy: task.StrategyAdaptive, Phases: []task.PhaseSpec{
			{Name: "a", DependsOn: []string{"b"}},
			{Name: "b", DependsOn: []string{"a"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.SubmitTask(context.Background(), tt.spec)
			if !errors.Is(err, domain.ErrInvalidTaskSpec) {
				t.Fatalf("expected ErrInvalidTaskSpec, got %v", err)
			}
		})
	}
	if len(f.orch.ListTasks()) != 0 {
		t.Fatal("rejected specs must not create tasks")
	}
}

func TestOrchestrator_RatificationGate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		choice proposal.Choice
		want   task.Status
	}{
		{"approved", proposal.ChoiceApprove, task.StatusRunning},
		{"rejected", proposal.ChoiceReject, task.StatusFailed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cf := newConsensus(t, 3)
			ctx := context.Background()
			reg := service.NewRegistryService(nil)
			for _, id := range cf.voters {
				register(t, reg, id, agent.RoleWorker)
			}
			orch := service.NewOrchestratorService(config.Defaults().Orchestrator, reg, cf.engine, cf.mem, nil, service.NewEventRecorder(cf.hub, nil))
			t.Cleanup(orch.Wait)

			id, err := orch.SubmitTask(ctx, task.Spec{
				Description: "contested change",
				Strategy:    task.StrategyConsensus,
				Phases:      []task.PhaseSpec{{Name: "apply", RequiredCapabilities: []string{"implementation"}}},
			})
			if err != nil {
				t.Fatal(err)
			}
			tk, _ := orch.GetTask(id)
			gate := tk.Phases[0]
			if gate.Kind != task.KindRatification || gate.ProposalID == "" || gate.Status != task.PhaseInProgress {
				t.Fatalf("expected an open ratification gate, got %+v", gate)
			}
			if tk.Phases[1].Status != task.PhasePending {
				t.Fatal("work must wait for ratification")
			}
			if err := orch.ReassignPhase(ctx, tk.Phases[1].ID, ""); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("work cannot be reassigned past the gate, got %v", err)
			}
			if ok, _ := orch.AssignAgents(ctx, tk.Phases[1].ID); ok {
				t.Fatal("work cannot be assigned past the gate")
			}

			var res service.ConsensusResult
			for _, v := range cf.voters {
				if res, err = cf.engine.SubmitVote(ctx, gate.ProposalID, v, tt.choice, 1); err != nil {
					t.Fatal(err)
				}
			}
			if err := orch.HandleProposalResolved(ctx, gate.ProposalID, res.Status); err != nil {
				t.Fatal(err)
			}

			tk, _ = orch.GetTask(id)
			if tk.Status != tt.want {
				t.Fatalf("expected task %s, got %s", tt.want, tk.Status)
			}
			if tt.want == task.StatusRunning && tk.Phases[1].Status != task.PhaseAssigned {
				t.Fatalf("work should start after ratification, got %s", tk.Phases[1].Status)
			}
			if tt.want == task.StatusFailed && tk.Phases[1].Status != task.PhaseCancelled {
				t.Fatalf("work should be cancelled after rejection, got %s", tk.Phases[1].Status)
			}
			if _, err := cf.mem.Get(ctx, knowledge.PartitionState, "tasks/"+id); err != nil {
				t.Fatalf("task snapshot should be in state partition: %v", err)
			}

			// Unknown proposals are ignored.
			if err := orch.HandleProposalResolved(ctx, "other", proposal.StatusPassed); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestOrchestrator_CompletionRecordsResult(t *testing.T) {
	hub := &recordingHub{}
	rec := service.NewEventRecorder(hub, nil)
	reg := service.NewRegistryService(rec)
	mem := newMemory(t, knowledge.PolicyLastWriterWins, hub)
	orch := service.NewOrchestratorService(config.Defaults().Orchestrator, reg, nil, mem, nil, rec)
	t.Cleanup(orch.Wait)
	ctx := context.Background()
	register(t, reg, "w1", agent.RoleWorker)

	id, err := orch.SubmitTask(ctx, task.Spec{Description: "quick", Phases: []task.PhaseSpec{{Name: "only"}}})
	if err != nil {
		t.Fatal(err)
	}
	tk, _ := orch.GetTask(id)
	if err := orch.EvaluateCheckpoint(ctx, tk.Phases[0].ID, task.Report{AgentID: "w2"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("reports from unassigned agents are rejected, got %v", err)
	}
	if err := orch.EvaluateCheckpoint(ctx, tk.Phases[0].ID, task.Report{AgentID: "w1"}); err != nil {
		t.Fatal(err)
	}
	if tk, _ = orch.GetTask(id); tk.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", tk.Status)
	}
	if hub.count(event.TypeTaskCompleted) != 1 {
		t.Fatal("expected task_completed event")
	}
	if _, err := mem.Get(ctx, knowledge.PartitionResults, "tasks/"+id); err != nil {
		t.Fatalf("result should be recorded: %v", err)
	}
	if err := orch.EvaluateCheckpoint(ctx, tk.Phases[0].ID, pass()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("completed phases cannot be evaluated again, got %v", err)
	}
	if stats := orch.TaskStats(); stats[task.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
