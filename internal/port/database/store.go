// Package database defines the persistence port for durable memory entries,
// resolved decisions, and task snapshots.
package database

import (
	"context"

	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
)

// Store is the port interface for durable storage. Lookups of missing rows
// return an error wrapping domain.ErrNotFound.
type Store interface {
	// Entries
	SaveEntry(ctx context.Context, e *knowledge.Entry) error
	LoadEntry(ctx context.Context, partition knowledge.Partition, key string) (*knowledge.Entry, error)
	QueryEntries(ctx context.Context, partition knowledge.Partition, f knowledge.Filter) ([]knowledge.Entry, error)
	DeleteEntry(ctx context.Context, partition knowledge.Partition, key string) error

	// Decisions
	SaveDecision(ctx context.Context, p *proposal.Proposal) error
	GetDecision(ctx context.Context, id string) (*proposal.Proposal, error)
}
