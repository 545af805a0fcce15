package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	swarmotel "github.com/Strob0t/swarmcore/internal/adapter/otel"
	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/message"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
)

// Publisher puts a message on the communication bus.
type Publisher interface {
	Publish(ctx context.Context, m *message.Message) error
}

// DecisionStore persists resolved proposals.
type DecisionStore interface {
	SaveDecision(ctx context.Context, p *proposal.Proposal) error
}

// ConsensusResult is the state reported by CheckConsensus.
type ConsensusResult struct {
	ProposalID    string          `json:"proposal_id"`
	Status        proposal.Status `json:"status"`
	Ratio         float64         `json:"ratio"`
	Participation float64         `json:"participation"`
}

// DecisionOutcome is what ExecuteDecision returns, the same on every call.
type DecisionOutcome struct {
	ProposalID string          `json:"proposal_id"`
	Status     proposal.Status `json:"status"`
	Action     proposal.Action `json:"action"`
	Ratio      float64         `json:"ratio"`
}

// ConsensusService runs the proposal lifecycle. Each proposal has its own
// lock and deadline timer so proposals evaluate independently while votes on
// one proposal are applied one at a time.
type ConsensusService struct {
	cfg       config.Consensus
	registry  *RegistryService
	bus       Publisher
	memory    *MemoryService
	decisions DecisionStore
	events    *EventRecorder
	id        string

	mu        sync.RWMutex
	proposals map[string]*proposalSlot
	spans     sync.Map // proposal id -> trace.Span

	now func() time.Time
}

type proposalSlot struct {
	mu    sync.Mutex
	p     *proposal.Proposal
	timer *time.Timer
}

// NewConsensusService creates a ConsensusService. bus and memory may be nil.
func NewConsensusService(cfg config.Consensus, registry *RegistryService, bus Publisher, memory *MemoryService, events *EventRecorder) *ConsensusService {
	return &ConsensusService{
		cfg:       cfg,
		registry:  registry,
		bus:       bus,
		memory:    memory,
		events:    events,
		id:        "consensus",
		proposals: make(map[string]*proposalSlot),
		now:       time.Now,
	}
}

// SetDecisionStore sets the persistence collaborator for resolved proposals.
func (s *ConsensusService) SetDecisionStore(ds DecisionStore) {
	s.decisions = ds
}

// CreateProposal opens a proposal and asks its eligible voters to vote.
// A zero deadline means the configured default from now; a zero minimum
// participation means the configured default.
func (s *ConsensusService) CreateProposal(ctx context.Context, req proposal.CreateRequest) (*proposal.Proposal, error) {
	now := s.now()
	if req.Deadline.IsZero() {
		req.Deadline = now.Add(s.cfg.DefaultDeadline)
	}
	if req.MinParticipation == 0 {
		req.MinParticipation = s.cfg.DefaultMinParticipation
	}
	if err := req.Validate(now); err != nil {
		return nil, err
	}

	threshold, _ := req.Strategy.Threshold()
	if req.Strategy == proposal.StrategyQualifiedMajority && s.cfg.QualifiedThreshold > 0 {
		threshold = s.cfg.QualifiedThreshold
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	eligible := dedupe(req.Voters)
	if len(req.Voters) == 0 && s.registry != nil {
		eligible = s.registry.EligibleVoters()
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: proposal has no eligible voters", domain.ErrValidation)
	}

	p := &proposal.Proposal{
		ID:               uuid.New().String(),
		Content:          req.Content,
		Proposer:         req.Proposer,
		Strategy:         req.Strategy,
		Threshold:        threshold,
		Deadline:         req.Deadline,
		MinParticipation: req.MinParticipation,
		Eligible:         eligible,
		Expertise:        maps.Clone(req.Expertise),
		Status:           proposal.StatusOpen,
		CreatedAt:        now,
	}
	sl := &proposalSlot{p: p}

	s.mu.Lock()
	s.proposals[p.ID] = sl
	s.mu.Unlock()

	slog.Info("proposal created", "proposal_id", p.ID, "strategy", p.Strategy, "threshold", p.Threshold, "voters", len(eligible))
	_, span := swarmotel.StartProposalSpan(ctx, p.ID, string(p.Strategy), len(eligible))
	s.spans.Store(p.ID, span)

	s.ArmDeadline(p.ID)
	s.publish(ctx, &message.Message{
		Channel: message.ChannelConsensus,
		Type:    message.TypeVoteRequest,
		From:    s.id,
		Payload: message.Encode(message.VoteRequest{
			ProposalID: p.ID,
			Content:    p.Content,
			Strategy:   p.Strategy,
			Deadline:   p.Deadline,
		}),
	})
	return p.Clone(), nil
}

// ArmDeadline starts the proposal's deadline timer unless it is already
// running or the proposal has resolved.
func (s *ConsensusService) ArmDeadline(id string) {
	sl, err := s.slot(id)
	if err != nil {
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.timer != nil || sl.p.Status.IsTerminal() {
		return
	}
	sl.timer = time.AfterFunc(max(sl.p.Deadline.Sub(s.now()), 0), func() {
		s.expire(id)
	})
}

// SubmitVote records a ballot. The proposal resolves as soon as every
// eligible voter has voted.
func (s *ConsensusService) SubmitVote(ctx context.Context, id, agentID string, choice proposal.Choice, confidence float64) (ConsensusResult, error) {
	if !choice.Valid() {
		return ConsensusResult{}, fmt.Errorf("%w: unknown choice %q", domain.ErrValidation, choice)
	}
	if confidence < 0 || confidence > 1 {
		return ConsensusResult{}, fmt.Errorf("%w: confidence must be in [0, 1]", domain.ErrValidation)
	}
	sl, err := s.slot(id)
	if err != nil {
		return ConsensusResult{}, err
	}

	now := s.now()
	sl.mu.Lock()
	p := sl.p
	if p.Status.IsTerminal() {
		sl.mu.Unlock()
		return ConsensusResult{}, fmt.Errorf("proposal %s is %s: %w", id, p.Status, domain.ErrProposalClosed)
	}
	if !now.Before(p.Deadline) {
		snap := s.resolveLocked(sl, true)
		sl.mu.Unlock()
		s.announce(ctx, snap)
		return ConsensusResult{}, fmt.Errorf("proposal %s passed its deadline: %w", id, domain.ErrProposalClosed)
	}
	if !p.IsEligible(agentID) {
		sl.mu.Unlock()
		return ConsensusResult{}, fmt.Errorf("agent %s on proposal %s: %w", agentID, id, domain.ErrIneligibleVoter)
	}
	if p.HasVoted(agentID) {
		sl.mu.Unlock()
		return ConsensusResult{}, fmt.Errorf("agent %s on proposal %s: %w", agentID, id, domain.ErrDuplicateVote)
	}
	p.Votes = append(p.Votes, proposal.Vote{
		ProposalID: id,
		AgentID:    agentID,
		Choice:     choice,
		Confidence: confidence,
		CastAt:     now,
	})

	var snap *proposal.Proposal
	if len(p.Votes) == len(p.Eligible) {
		snap = s.resolveLocked(sl, false)
	}
	res := resultOf(p)
	sl.mu.Unlock()

	if snap != nil {
		s.announce(ctx, snap)
	}
	return res, nil
}

// CheckConsensus reports a proposal's state. Past its deadline an open
// proposal is resolved first; before it, the ratio is provisional and the
// status stays open.
func (s *ConsensusService) CheckConsensus(ctx context.Context, id string) (ConsensusResult, error) {
	sl, err := s.slot(id)
	if err != nil {
		return ConsensusResult{}, err
	}
	sl.mu.Lock()
	p := sl.p
	if p.Status.IsTerminal() {
		res := resultOf(p)
		sl.mu.Unlock()
		return res, nil
	}
	if !s.now().Before(p.Deadline) {
		snap := s.resolveLocked(sl, true)
		res := resultOf(p)
		sl.mu.Unlock()
		s.announce(ctx, snap)
		return res, nil
	}
	t := proposal.Count(p)
	sl.mu.Unlock()
	return ConsensusResult{ProposalID: id, Status: proposal.StatusOpen, Ratio: t.Ratio, Participation: t.Participation}, nil
}

// ExecuteDecision turns a resolved proposal into an action and broadcasts it
// once. Later calls return the same outcome without broadcasting again.
func (s *ConsensusService) ExecuteDecision(ctx context.Context, id string) (DecisionOutcome, error) {
	sl, err := s.slot(id)
	if err != nil {
		return DecisionOutcome{}, err
	}
	sl.mu.Lock()
	p := sl.p
	if !p.Status.IsTerminal() {
		sl.mu.Unlock()
		return DecisionOutcome{}, fmt.Errorf("proposal %s is %s: %w", id, p.Status, domain.ErrNotResolved)
	}
	if p.Executed {
		out := outcomeOf(p)
		sl.mu.Unlock()
		return out, nil
	}
	p.Action = proposal.ActionFor(p, s.cfg.ModifyBand)
	p.Executed = true
	out := outcomeOf(p)
	snap := p.Clone()
	sl.mu.Unlock()

	slog.Info("decision executed", "proposal_id", id, "action", out.Action, "status", out.Status)
	s.publish(ctx, &message.Message{
		Channel: message.ChannelConsensus,
		Type:    message.TypeDecision,
		From:    s.id,
		Payload: message.Encode(message.Decision{
			ProposalID: id,
			Status:     out.Status,
			Action:     out.Action,
			Ratio:      out.Ratio,
		}),
	})
	s.events.Emit(ctx, event.Event{Type: event.TypeDecisionExecuted, ProposalID: id}, out)
	s.record(ctx, snap)
	return out, nil
}

// GetProposal returns a copy of a proposal.
func (s *ConsensusService) GetProposal(id string) (*proposal.Proposal, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.p.Clone(), nil
}

// ListOpen returns every unresolved proposal, oldest first.
func (s *ConsensusService) ListOpen() []*proposal.Proposal {
	s.mu.RLock()
	slots := make([]*proposalSlot, 0, len(s.proposals))
	for _, sl := range s.proposals {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	var out []*proposal.Proposal
	for _, sl := range slots {
		sl.mu.Lock()
		if !sl.p.Status.IsTerminal() {
			out = append(out, sl.p.Clone())
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close stops every deadline timer.
func (s *ConsensusService) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sl := range s.proposals {
		sl.mu.Lock()
		if sl.timer != nil {
			sl.timer.Stop()
		}
		sl.mu.Unlock()
	}
	s.spans.Range(func(k, v any) bool {
		v.(trace.Span).End()
		s.spans.Delete(k)
		return true
	})
}

func (s *ConsensusService) expire(id string) {
	sl, err := s.slot(id)
	if err != nil {
		return
	}
	sl.mu.Lock()
	if sl.p.Status.IsTerminal() {
		sl.mu.Unlock()
		return
	}
	snap := s.resolveLocked(sl, true)
	sl.mu.Unlock()
	s.announce(context.Background(), snap)
}

// resolveLocked moves an open proposal through evaluating to its terminal
// state and returns a snapshot for announcement. sl.mu must be held.
func (s *ConsensusService) resolveLocked(sl *proposalSlot, deadline bool) *proposal.Proposal {
	p := sl.p
	p.Status = proposal.StatusEvaluating
	v := proposal.Decide(p, deadline)
	p.Status = v.Status
	p.Ratio = v.Tally.Ratio
	p.Participation = v.Tally.Participation
	p.Reason = v.Reason
	p.ResolvedAt = s.now()
	if sl.timer != nil {
		sl.timer.Stop()
	}
	return p.Clone()
}

// announce reports a resolution to voters, observers, and storage.
func (s *ConsensusService) announce(ctx context.Context, p *proposal.Proposal) {
	slog.Info("proposal resolved", "proposal_id", p.ID, "status", p.Status, "ratio", p.Ratio, "participation", p.Participation, "reason", p.Reason)
	if v, ok := s.spans.LoadAndDelete(p.ID); ok {
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.String("proposal.status", string(p.Status)),
			attribute.Float64("proposal.ratio", p.Ratio),
			attribute.Float64("proposal.participation", p.Participation),
		)
		if p.Status != proposal.StatusPassed {
			span.SetStatus(codes.Error, p.Reason)
		}
		span.End()
	}
	s.publish(ctx, &message.Message{
		Channel: message.ChannelConsensus,
		Type:    message.TypeProposalResolved,
		From:    s.id,
		Payload: message.Encode(message.ProposalResolved{
			ProposalID:    p.ID,
			Status:        p.Status,
			Ratio:         p.Ratio,
			Participation: p.Participation,
			Reason:        p.Reason,
		}),
	})
	s.events.Emit(ctx, event.Event{Type: event.TypeProposalResolved, ProposalID: p.ID}, map[string]any{
		"status":        p.Status,
		"strategy":      p.Strategy,
		"ratio":         p.Ratio,
		"participation": p.Participation,
		"reason":        p.Reason,
	})
	s.record(ctx, p)
}

func (s *ConsensusService) record(ctx context.Context, p *proposal.Proposal) {
	if s.memory != nil {
		_, _, err := s.memory.Put(ctx, knowledge.PutRequest{
			Partition: knowledge.PartitionResults,
			Key:       "decisions/" + p.ID,
			Value:     p,
			Type:      "decision",
			Owner:     s.id,
			Tags:      []string{string(p.Strategy), string(p.Status)},
		})
		if err != nil {
			slog.Warn("record decision", "proposal_id", p.ID, "error", err)
		}
	}
	if s.decisions != nil {
		if err := s.decisions.SaveDecision(ctx, p); err != nil {
			slog.Warn("persist decision", "proposal_id", p.ID, "error", err)
		}
	}
}

func (s *ConsensusService) publish(ctx context.Context, m *message.Message) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, m); err != nil {
		slog.Warn("publish consensus message", "type", m.Type, "error", err)
	}
}

func (s *ConsensusService) slot(id string) (*proposalSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	return sl, nil
}

func resultOf(p *proposal.Proposal) ConsensusResult {
	if !p.Status.IsTerminal() {
		t := proposal.Count(p)
		return ConsensusResult{ProposalID: p.ID, Status: p.Status, Ratio: t.Ratio, Participation: t.Participation}
	}
	return ConsensusResult{ProposalID: p.ID, Status: p.Status, Ratio: p.Ratio, Participation: p.Participation}
}

func outcomeOf(p *proposal.Proposal) DecisionOutcome {
	return DecisionOutcome{ProposalID: p.ID, Status: p.Status, Action: p.Action, Ratio: p.Ratio}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
