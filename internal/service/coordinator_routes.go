package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/agent"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/message"
)

// Routes returns the bus handler table. Each handler decodes its payload and
// calls into the owning component.
func (c *CoordinatorService) Routes() Routes {
	return Routes{
		message.TypeVoteRequest:      c.onVoteRequest,
		message.TypeVoteResponse:     c.onVoteResponse,
		message.TypeConsensusCheck:   c.onConsensusCheck,
		message.TypeProposalResolved: c.onProposalResolved,
		message.TypeKnowledgeShare:   c.onKnowledgeShare,
		message.TypeStatusUpdate:     c.onStatusUpdate,
		message.TypeQualityReport:    c.onQualityReport,
		message.TypeHelpRequest:      c.onHelpRequest,
		message.TypeTaskProposal:     c.onTaskProposal,
		message.TypeCoordinationSync: c.handleSync,
	}
}

func (c *CoordinatorService) onVoteRequest(_ context.Context, m *message.Message) error {
	var req message.VoteRequest
	if err := m.Decode(&req); err != nil {
		return fmt.Errorf("decode vote request: %w", err)
	}
	c.consensus.ArmDeadline(req.ProposalID)
	return nil
}

func (c *CoordinatorService) onVoteResponse(ctx context.Context, m *message.Message) error {
	var v message.VoteResponse
	if err := m.Decode(&v); err != nil {
		return fmt.Errorf("decode vote: %w", err)
	}
	if v.AgentID == "" {
		v.AgentID = m.From
	}
	if _, err := c.consensus.SubmitVote(ctx, v.ProposalID, v.AgentID, v.Choice, v.Confidence); err != nil {
		return fmt.Errorf("vote from %s on %s: %w", v.AgentID, v.ProposalID, err)
	}
	return nil
}

func (c *CoordinatorService) onConsensusCheck(ctx context.Context, m *message.Message) error {
	var cc message.ConsensusCheck
	if err := m.Decode(&cc); err != nil {
		return fmt.Errorf("decode consensus check: %w", err)
	}
	res, err := c.consensus.CheckConsensus(ctx, cc.ProposalID)
	if err != nil {
		return err
	}
	slog.Debug("consensus checked", "proposal_id", res.ProposalID, "status", res.Status, "ratio", res.Ratio)
	return nil
}

func (c *CoordinatorService) onProposalResolved(ctx context.Context, m *message.Message) error {
	var pr message.ProposalResolved
	if err := m.Decode(&pr); err != nil {
		return fmt.Errorf("decode proposal resolution: %w", err)
	}
	return c.orchestrator.HandleProposalResolved(ctx, pr.ProposalID, pr.Status)
}

func (c *CoordinatorService) onKnowledgeShare(ctx context.Context, m *message.Message) error {
	var ks message.KnowledgeShare
	if err := m.Decode(&ks); err != nil {
		return fmt.Errorf("decode knowledge share: %w", err)
	}
	if c.memory == nil {
		return nil
	}
	_, _, err := c.memory.Put(ctx, knowledge.PutRequest{
		Partition: knowledge.PartitionKnowledge,
		Key:       ks.Key,
		Value:     ks.Value,
		Type:      ks.Type,
		Owner:     m.From,
		Tags:      ks.Tags,
		Access:    knowledge.AccessPublic,
	})
	return err
}

func (c *CoordinatorService) onStatusUpdate(ctx context.Context, m *message.Message) error {
	var su message.StatusUpdate
	if err := m.Decode(&su); err != nil {
		return fmt.Errorf("decode status update: %w", err)
	}
	if su.AgentID == "" {
		su.AgentID = m.From
	}
	if err := c.registry.Heartbeat(ctx, su.AgentID, agent.Status(su.Status), su.Workload); err != nil {
		return err
	}
	if su.PhaseID != "" {
		return c.orchestrator.ReportProgress(ctx, su.PhaseID, su.AgentID)
	}
	return nil
}

func (c *CoordinatorService) onQualityReport(ctx context.Context, m *message.Message) error {
	var qr message.QualityReport
	if err := m.Decode(&qr); err != nil {
		return fmt.Errorf("decode quality report: %w", err)
	}
	if qr.Report.AgentID == "" {
		qr.Report.AgentID = m.From
	}
	err := c.orchestrator.EvaluateCheckpoint(ctx, qr.PhaseID, qr.Report)
	if errors.Is(err, domain.ErrCheckpointFailed) {
		// The phase has already been failed or reassigned.
		return nil
	}
	return err
}

func (c *CoordinatorService) onHelpRequest(ctx context.Context, m *message.Message) error {
	var hr message.HelpRequest
	if err := m.Decode(&hr); err != nil {
		return fmt.Errorf("decode help request: %w", err)
	}
	err := c.ReassignPhase(ctx, hr.PhaseID, m.From)
	if errors.Is(err, domain.ErrCapabilityMismatch) {
		slog.Info("help request queued, no replacement available", "phase_id", hr.PhaseID, "from", m.From, "reason", hr.Reason)
		return nil
	}
	return err
}

func (c *CoordinatorService) onTaskProposal(ctx context.Context, m *message.Message) error {
	var tp message.TaskProposal
	if err := m.Decode(&tp); err != nil {
		return fmt.Errorf("decode task proposal: %w", err)
	}
	_, err := c.Execute(ctx, tp.Spec)
	return err
}
