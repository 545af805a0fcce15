// Package replica defines the port for holders of replicated memory entries.
package replica

import (
	"context"

	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
)

// Holder stores replicas of durable memory entries. Get on a missing ref
// returns (nil, nil).
type Holder interface {
	ID() string
	Put(ctx context.Context, e *knowledge.Entry) error
	Get(ctx context.Context, ref string) (*knowledge.Entry, error)
	Delete(ctx context.Context, ref string) error
}
