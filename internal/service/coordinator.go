package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/message"
	"github.com/Strob0t/swarmcore/internal/domain/plan"
	"github.com/Strob0t/swarmcore/internal/domain/scoring"
	"github.com/Strob0t/swarmcore/internal/domain/task"
)

// Coordination is the coordination strategy the coordinator picks for a task.
type Coordination string

const (
	CoordinationHierarchical   Coordination = "hierarchical"
	CoordinationMesh           Coordination = "mesh"
	CoordinationAdaptive       Coordination = "adaptive"
	CoordinationConsensusGated Coordination = "consensus_gated"
)

// execution maps a coordination strategy to the execution strategy of its phases.
var execution = map[Coordination]task.Strategy{
	CoordinationHierarchical:   task.StrategySequential,
	CoordinationMesh:           task.StrategyParallel,
	CoordinationAdaptive:       task.StrategyAdaptive,
	CoordinationConsensusGated: task.StrategyConsensus,
}

// minPatternSamples is how many outcomes a learned pattern needs before it
// can override the rule-based choice.
const minPatternSamples = 3

// Decision is the result of MakeStrategicDecision.
type Decision struct {
	Coordination Coordination  `json:"coordination"`
	Execution    task.Strategy `json:"execution"`
	Complexity   float64       `json:"complexity"`
	Reason       string        `json:"reason"`
}

// CoordinatorStatus is a point-in-time view of the swarm.
type CoordinatorStatus struct {
	Agents           int                 `json:"agents"`
	Available        int                 `json:"available"`
	AggregateLoad    float64             `json:"aggregate_load"`
	Tasks            map[task.Status]int `json:"tasks"`
	PendingPhases    int                 `json:"pending_phases"`
	OpenProposals    int                 `json:"open_proposals"`
	BusDropped       int64               `json:"bus_dropped"`
	Memory           *MemoryStats        `json:"memory,omitempty"`
	LastHealthCheck  time.Time           `json:"last_health_check,omitzero"`
	LastOptimization time.Time           `json:"last_optimization,omitzero"`
}

type patternStat struct {
	Successes int `json:"successes"`
	Total     int `json:"total"`
}

func (p *patternStat) rate() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Total)
}

// CoordinatorService picks coordination strategies, routes bus traffic to
// the other components, and runs the health and optimization loops.
type CoordinatorService struct {
	cfg          config.Coordinator
	registry     *RegistryService
	consensus    *ConsensusService
	orchestrator *OrchestratorService
	memory       *MemoryService
	bus          *BusService
	events       *EventRecorder

	mu               sync.Mutex
	patterns         map[string]map[Coordination]*patternStat // capability signature -> coordination -> outcomes
	lastHealth       time.Time
	lastOptimization time.Time

	now func() time.Time
}

// NewCoordinatorService wires the coordinator to the components it drives and
// installs its recovery policy on the orchestrator.
func NewCoordinatorService(
	cfg config.Coordinator,
	registry *RegistryService,
	consensus *ConsensusService,
	orchestrator *OrchestratorService,
	memory *MemoryService,
	bus *BusService,
	events *EventRecorder,
) *CoordinatorService {
	if cfg.ID == "" {
		cfg.ID = "coordinator"
	}
	c := &CoordinatorService{
		cfg:          cfg,
		registry:     registry,
		consensus:    consensus,
		orchestrator: orchestrator,
		memory:       memory,
		bus:          bus,
		events:       events,
		patterns:     make(map[string]map[Coordination]*patternStat),
		now:          time.Now,
	}
	orchestrator.SetRecoveryPolicy(c.shouldReassign)
	return c
}

// MakeStrategicDecision chooses a coordination strategy from the task's
// phase count, inferred complexity, and conflicting requirements, and the
// number of available agents. Learned patterns may override the rule.
func (c *CoordinatorService) MakeStrategicDecision(spec *task.Spec) Decision {
	complexity := plan.Complexity(spec)
	available := len(c.registry.Candidates())

	d := Decision{Complexity: complexity}
	switch {
	case len(spec.Conflicts) > 0:
		d.Coordination = CoordinationConsensusGated
		d.Reason = "conflicting requirements need ratification"
	case len(spec.Phases) <= 2 && complexity < 0.4:
		d.Coordination = CoordinationMesh
		d.Reason = "small independent task"
	case complexity >= 0.6 && available >= 4:
		d.Coordination = CoordinationHierarchical
		d.Reason = "complex task with a large pool"
	default:
		d.Coordination = CoordinationAdaptive
		d.Reason = "mixed dependencies"
	}

	if len(spec.Conflicts) == 0 {
		if learned, ok := c.learnedChoice(spec, d.Coordination); ok {
			d.Coordination = learned
			d.Reason = "learned pattern"
		}
	}
	d.Execution = execution[d.Coordination]
	return d
}

// learnedChoice returns a coordination that has done clearly better than
// current on phases with the same capability signatures.
func (c *CoordinatorService) learnedChoice(spec *task.Spec, current Coordination) (Coordination, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg := make(map[Coordination]*patternStat)
	for i := range spec.Phases {
		for coord, st := range c.patterns[signature(spec.Phases[i].RequiredCapabilities)] {
			a, ok := agg[coord]
			if !ok {
				a = &patternStat{}
				agg[coord] = a
			}
			a.Successes += st.Successes
			a.Total += st.Total
		}
	}

	baseline := 0.5
	if st, ok := agg[current]; ok && st.Total >= minPatternSamples {
		baseline = st.rate()
	}
	best, bestRate := current, baseline
	for _, coord := range []Coordination{CoordinationHierarchical, CoordinationMesh, CoordinationAdaptive} {
		st, ok := agg[coord]
		if !ok || st.Total < minPatternSamples {
			continue
		}
		if r := st.rate(); r > bestRate+0.1 {
			best, bestRate = coord, r
		}
	}
	return best, best != current
}

// SelectAgentsForTask builds an initial roster by ranking available agents
// against each phase with the orchestrator's scoring.
func (c *CoordinatorService) SelectAgentsForTask(spec *task.Spec, strategy task.Strategy) []string {
	candidates := c.registry.Candidates()
	w := c.orchestrator.ScoringWeights(strategy)
	var roster []string
	for i := range spec.Phases {
		ps := &spec.Phases[i]
		need := max(ps.AgentCount, 1)
		for _, r := range scoring.Rank(candidates, ps.RequiredCapabilities, w, nil, nil) {
			if need == 0 {
				break
			}
			if slices.Contains(roster, r.AgentID) {
				need--
				continue
			}
			roster = append(roster, r.AgentID)
			need--
		}
	}
	return roster
}

// Execute plans and submits a task: strategic decision, roster, then the
// orchestrator takes over.
func (c *CoordinatorService) Execute(ctx context.Context, spec task.Spec) (*task.Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	d := c.MakeStrategicDecision(&spec)
	if spec.Strategy == "" {
		spec.Strategy = d.Execution
	}
	roster := c.SelectAgentsForTask(&spec, spec.Strategy)

	t, err := c.orchestrator.Submit(ctx, SubmitRequest{Spec: spec, Roster: roster, Coordination: string(d.Coordination)})
	if err != nil {
		return nil, err
	}
	slog.Info("task planned", "task_id", t.ID, "coordination", d.Coordination, "strategy", spec.Strategy,
		"complexity", d.Complexity, "reason", d.Reason, "roster", roster)
	return t, nil
}

// HandleAgentFailure takes an agent offline and returns its phases to the
// assignment pool.
func (c *CoordinatorService) HandleAgentFailure(ctx context.Context, agentID string) error {
	held, err := c.registry.MarkOffline(ctx, agentID)
	if err != nil {
		return err
	}
	c.registry.PenalizeHealth(agentID, c.cfg.HealthPenalty)
	n := c.orchestrator.RequeueAgentPhases(ctx, agentID, held)
	slog.Warn("agent failed", "agent_id", agentID, "phases_requeued", n)
	return nil
}

// ReassignPhase moves a phase away from a failed agent.
func (c *CoordinatorService) ReassignPhase(ctx context.Context, phaseID, failedAgent string) error {
	return c.orchestrator.ReassignPhase(ctx, phaseID, failedAgent)
}

// shouldReassign is the orchestrator's recovery policy: a phase that failed
// its checkpoint is retried when another qualified agent is available.
func (c *CoordinatorService) shouldReassign(_ *task.Task, p *task.Phase, _ error) bool {
	exclude := append(slices.Clone(p.ExcludedAgents), p.AssignedAgents...)
	return len(scoring.Rank(c.registry.Candidates(), p.RequiredCapabilities, scoring.Default(), exclude, nil)) > 0
}

// CheckHealth scans for unresponsive agents, stalled phases, and overload,
// and reports the findings to the coordinator over the bus.
func (c *CoordinatorService) CheckHealth(ctx context.Context) error {
	report := message.CoordinationSync{
		Kind:          message.SyncHealth,
		Unresponsive:  c.registry.Unresponsive(c.cfg.ResponsivenessWindow),
		StalledPhases: c.orchestrator.StalledPhases(),
		Overloaded:    c.orchestrator.NeedsRebalance(),
	}
	c.mu.Lock()
	c.lastHealth = c.now()
	c.mu.Unlock()
	return c.bus.Send(ctx, message.ChannelCoordination, message.TypeCoordinationSync, c.cfg.ID, c.cfg.ID, report)
}

// RequestOptimization asks the coordinator to run an optimization pass.
func (c *CoordinatorService) RequestOptimization(ctx context.Context) error {
	return c.bus.Send(ctx, message.ChannelCoordination, message.TypeCoordinationSync, c.cfg.ID, c.cfg.ID,
		message.CoordinationSync{Kind: message.SyncOptimization})
}

func (c *CoordinatorService) handleSync(ctx context.Context, m *message.Message) error {
	var s message.CoordinationSync
	if err := m.Decode(&s); err != nil {
		return fmt.Errorf("decode coordination sync: %w", err)
	}
	switch s.Kind {
	case message.SyncHealth:
		for _, id := range s.Unresponsive {
			if err := c.HandleAgentFailure(ctx, id); err != nil {
				slog.Warn("handle agent failure", "agent_id", id, "error", err)
			}
		}
		for _, id := range s.StalledPhases {
			if err := c.orchestrator.RecoverStalledPhase(ctx, id); err != nil {
				slog.Warn("recover stalled phase", "phase_id", id, "error", err)
			}
		}
		if s.Overloaded {
			c.orchestrator.Rebalance(ctx)
		}
		c.orchestrator.RetryPending(ctx)
	case message.SyncOptimization:
		c.Optimize(ctx)
	default:
		return fmt.Errorf("%w: unknown sync kind %q", domain.ErrValidation, s.Kind)
	}
	return nil
}

// Optimize reviews finished phases, nudges each strategy's scoring weights
// toward the signals of successful assignments, and records decision
// patterns. It returns the strategies whose weights changed.
func (c *CoordinatorService) Optimize(ctx context.Context) map[task.Strategy]scoring.Weights {
	outcomes := c.orchestrator.DrainOutcomes()
	c.mu.Lock()
	c.lastOptimization = c.now()
	c.mu.Unlock()
	if len(outcomes) == 0 {
		return nil
	}

	type split struct{ ok, bad []scoring.Components }
	type patternKey struct {
		sig   string
		coord Coordination
	}
	byStrategy := make(map[task.Strategy]*split)
	touched := make(map[patternKey]patternStat)
	c.mu.Lock()
	for _, o := range outcomes {
		sp, ok := byStrategy[o.Strategy]
		if !ok {
			sp = &split{}
			byStrategy[o.Strategy] = sp
		}
		if o.Success {
			sp.ok = append(sp.ok, o.Components)
		} else {
			sp.bad = append(sp.bad, o.Components)
		}

		if o.Coordination == "" {
			continue
		}
		k := patternKey{signature(o.Capabilities), Coordination(o.Coordination)}
		if c.patterns[k.sig] == nil {
			c.patterns[k.sig] = make(map[Coordination]*patternStat)
		}
		st, ok := c.patterns[k.sig][k.coord]
		if !ok {
			st = &patternStat{}
			c.patterns[k.sig][k.coord] = st
		}
		st.Total++
		if o.Success {
			st.Successes++
		}
		touched[k] = *st
	}
	c.mu.Unlock()

	for k, st := range touched {
		if st.Successes == 0 {
			continue
		}
		c.put(ctx, knowledge.PartitionKnowledge, "patterns/"+string(k.coord)+"/"+k.sig, map[string]any{
			"coordination": k.coord,
			"capabilities": k.sig,
			"successes":    st.Successes,
			"total":        st.Total,
			"rate":         st.rate(),
		}, "decision_pattern", string(k.coord))
	}

	adjusted := make(map[task.Strategy]scoring.Weights)
	for strategy, sp := range byStrategy {
		if len(sp.ok) == 0 || len(sp.bad) == 0 {
			continue
		}
		w := scoring.Adjust(c.orchestrator.ScoringWeights(strategy), sp.ok, sp.bad, c.cfg.LearningRate)
		c.orchestrator.SetScoringWeights(strategy, w)
		c.put(ctx, knowledge.PartitionState, "scoring/"+string(strategy), w, "scoring_weights", string(strategy))
		adjusted[strategy] = w
	}
	if len(adjusted) > 0 {
		slog.Info("scoring weights adjusted", "strategies", len(adjusted), "outcomes", len(outcomes))
		c.events.Emit(ctx, event.Event{Type: event.TypeWeightsAdjusted}, adjusted)
	}
	return adjusted
}

// Restore loads previously learned scoring weights from the state partition.
func (c *CoordinatorService) Restore(ctx context.Context) {
	if c.memory == nil {
		return
	}
	for _, strategy := range task.Strategies {
		e, err := c.memory.Get(ctx, knowledge.PartitionState, "scoring/"+string(strategy))
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Warn("restore scoring weights", "strategy", strategy, "error", err)
			}
			continue
		}
		var w scoring.Weights
		if err := convert(e.Value, &w); err != nil {
			slog.Warn("decode scoring weights", "strategy", strategy, "error", err)
			continue
		}
		c.orchestrator.SetScoringWeights(strategy, w)
		slog.Info("scoring weights restored", "strategy", strategy)
	}
}

// Status reports the current state of the swarm.
func (c *CoordinatorService) Status() CoordinatorStatus {
	agents := c.registry.List()
	st := CoordinatorStatus{
		Agents:        len(agents),
		AggregateLoad: c.registry.AggregateLoad(),
		Tasks:         c.orchestrator.TaskStats(),
		PendingPhases: c.orchestrator.PendingCount(),
	}
	for _, a := range agents {
		if a.Status.Available() {
			st.Available++
		}
	}
	if c.consensus != nil {
		st.OpenProposals = len(c.consensus.ListOpen())
	}
	if c.bus != nil {
		st.BusDropped = c.bus.Dropped()
	}
	if c.memory != nil {
		ms := c.memory.Stats()
		st.Memory = &ms
	}
	c.mu.Lock()
	st.LastHealthCheck = c.lastHealth
	st.LastOptimization = c.lastOptimization
	c.mu.Unlock()
	return st
}

// Run drives the bus dispatch loop and both monitoring loops until ctx is
// cancelled.
func (c *CoordinatorService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.bus.Run(ctx, c.Routes())
	})
	g.Go(func() error {
		every(ctx, c.cfg.HealthInterval, "health check", c.CheckHealth)
		return nil
	})
	g.Go(func() error {
		every(ctx, c.cfg.OptimizationInterval, "optimization", c.RequestOptimization)
		return nil
	})
	slog.Info("coordinator started", "id", c.cfg.ID, "health_interval", c.cfg.HealthInterval, "optimization_interval", c.cfg.OptimizationInterval)
	return g.Wait()
}

func every(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				slog.Warn(name+" failed", "error", err)
			}
		}
	}
}

func (c *CoordinatorService) put(ctx context.Context, partition knowledge.Partition, key string, value any, typ string, tags ...string) {
	if c.memory == nil {
		return
	}
	if _, _, err := c.memory.Put(ctx, knowledge.PutRequest{
		Partition: partition,
		Key:       key,
		Value:     value,
		Type:      typ,
		Owner:     c.cfg.ID,
		Tags:      tags,
	}); err != nil {
		slog.Warn("coordinator memory write", "key", key, "error", err)
	}
}

// signature is a stable key for a set of capabilities.
func signature(caps []string) string {
	if len(caps) == 0 {
		return "any"
	}
	s := slices.Clone(caps)
	sort.Strings(s)
	return strings.Join(slices.Compact(s), "+")
}

// convert copies a memory value into v, whether it is still the original Go
// value or a decoded JSON document.
func convert(value any, v any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
