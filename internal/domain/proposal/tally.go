package proposal

import "github.com/Strob0t/swarmcore/internal/domain"

// Tally is the weighted count of a proposal's votes.
type Tally struct {
	Approve       float64 `json:"approve"`
	Total         float64 `json:"total"`
	Voters        int     `json:"voters"`
	Ratio         float64 `json:"ratio"`
	Participation float64 `json:"participation"`
}

// Count computes the confidence-weighted approval ratio. Abstentions count
// toward participation but not toward the ratio. Qualified majority scales
// each vote by the voter's expertise weight (missing weights count as zero).
func Count(p *Proposal) Tally {
	var t Tally
	for i := range p.Votes {
		v := &p.Votes[i]
		t.Voters++
		if v.Choice == ChoiceAbstain {
			continue
		}
		w := v.Confidence
		if p.Strategy == StrategyQualifiedMajority {
			w *= p.Expertise[v.AgentID]
		}
		t.Total += w
		if v.Choice == ChoiceApprove {
			t.Approve += w
		}
	}
	if t.Total > 0 {
		t.Ratio = t.Approve / t.Total
	}
	if n := len(p.Eligible); n > 0 {
		t.Participation = float64(t.Voters) / float64(n)
	}
	return t
}

// Verdict is the outcome of a final evaluation.
type Verdict struct {
	Status Status
	Tally  Tally
	Reason string
}

// Decide resolves a proposal from its tally. The participation guard takes
// precedence over the approval ratio; a deadline evaluation with no weighted
// votes at all times out.
func Decide(p *Proposal, deadline bool) Verdict {
	t := Count(p)
	switch {
	case t.Participation+1e-9 < p.MinParticipation:
		return Verdict{Status: StatusFailed, Tally: t, Reason: domain.ErrConsensusParticipation.Error()}
	case deadline && t.Total == 0:
		return Verdict{Status: StatusTimedOut, Tally: t, Reason: "deadline passed without weighted votes"}
	case t.Ratio+1e-9 >= p.Threshold:
		return Verdict{Status: StatusPassed, Tally: t, Reason: "threshold met"}
	default:
		return Verdict{Status: StatusFailed, Tally: t, Reason: "threshold not met"}
	}
}

// ActionFor maps a resolved proposal to the action it asks for. A failed
// proposal that cleared the participation guard and reached modifyBand of the
// threshold asks for modification rather than cancellation.
func ActionFor(p *Proposal, modifyBand float64) Action {
	switch p.Status {
	case StatusPassed:
		return ActionApprove
	case StatusFailed:
		if p.Participation+1e-9 >= p.MinParticipation && p.Ratio > 0 && p.Ratio+1e-9 >= p.Threshold*modifyBand {
			return ActionModify
		}
	}
	return ActionCancel
}
