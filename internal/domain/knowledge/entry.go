// Package knowledge defines the partitioned shared-memory entry model,
// vector clocks, and conflict resolution policies.
package knowledge

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Partition names one of the four memory partitions.
type Partition string

const (
	PartitionKnowledge Partition = "knowledge"
	PartitionState     Partition = "state"
	PartitionCache     Partition = "cache"
	PartitionResults   Partition = "results"
)

// Partitions lists all partitions.
var Partitions = []Partition{PartitionKnowledge, PartitionState, PartitionCache, PartitionResults}

// Valid reports whether p is a known partition.
func (p Partition) Valid() bool {
	return slices.Contains(Partitions, p)
}

// Durable reports whether entries in p are replicated and persisted.
// Cache entries are scratch data and never leave the process.
func (p Partition) Durable() bool {
	return p != PartitionCache
}

// Access is the visibility level of an entry.
type Access string

const (
	AccessPublic  Access = "public"
	AccessTeam    Access = "team"
	AccessPrivate Access = "private"
)

// Entry is a single value in distributed memory.
type Entry struct {
	Partition Partition     `json:"partition"`
	Key       string        `json:"key"`
	Value     any           `json:"value"`
	Type      string        `json:"type,omitempty"`
	Owner     string        `json:"owner"`
	Tags      []string      `json:"tags,omitempty"`
	Access    Access        `json:"access"`
	TTL       time.Duration `json:"ttl,omitempty"`
	Clock     VectorClock   `json:"clock"`
	Version   uint64        `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt time.Time     `json:"expires_at,omitzero"`
}

// Ref returns the storage reference "partition/key".
func (e *Entry) Ref() string {
	return Ref(e.Partition, e.Key)
}

// Expired reports whether the entry's TTL has lapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// HasTags reports whether the entry carries every tag in want.
func (e *Entry) HasTags(want []string) bool {
	for _, t := range want {
		if !slices.Contains(e.Tags, t) {
			return false
		}
	}
	return true
}

// Clone returns a copy with an independent clock and tag slice.
// Values are treated as immutable once written.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Clock = e.Clock.Clone()
	c.Tags = slices.Clone(e.Tags)
	return &c
}

// Ref joins a partition and key into a storage reference.
func Ref(p Partition, key string) string {
	return string(p) + "/" + key
}

// PutRequest holds the fields for a write.
type PutRequest struct {
	Partition Partition     `json:"partition"`
	Key       string        `json:"key"`
	Value     any           `json:"value"`
	Type      string        `json:"type,omitempty"`
	Owner     string        `json:"owner"`
	Tags      []string      `json:"tags,omitempty"`
	Access    Access        `json:"access,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`
	// BaseClock is the clock the writer last observed for this key.
	// Nil means the write derives from whatever value is current.
	BaseClock VectorClock `json:"base_clock,omitempty"`
}

// Validate checks that a PutRequest has all required fields.
func (r *PutRequest) Validate() error {
	if !r.Partition.Valid() {
		return fmt.Errorf("invalid partition %q", r.Partition)
	}
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("key is required")
	}
	if r.Owner == "" {
		return errors.New("owner is required")
	}
	if r.TTL < 0 {
		return errors.New("ttl must be >= 0")
	}
	switch r.Access {
	case "", AccessPublic, AccessTeam, AccessPrivate:
	default:
		return fmt.Errorf("invalid access level %q", r.Access)
	}
	return nil
}

// Filter selects entries in Query.
type Filter struct {
	Type   string   `json:"type,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Owner  string   `json:"owner,omitempty"`
	Access Access   `json:"access,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// Match reports whether e satisfies the filter.
func (f *Filter) Match(e *Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Owner != "" && e.Owner != f.Owner {
		return false
	}
	if f.Access != "" && e.Access != f.Access {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(e.Key, f.Prefix) {
		return false
	}
	return e.HasTags(f.Tags)
}
