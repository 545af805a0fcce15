package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/domain/proposal"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Memory entries ---

const entryColumns = `partition, key, value, type, owner, tags, access, ttl_ns, clock, version, updated_at, expires_at`

// SaveEntry upserts an entry. A stored row with a higher version is kept.
func (s *Store) SaveEntry(ctx context.Context, e *knowledge.Entry) error {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshal entry value %s: %w", e.Ref(), err)
	}
	clock, err := json.Marshal(e.Clock)
	if err != nil {
		return fmt.Errorf("marshal entry clock %s: %w", e.Ref(), err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO memory_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (partition, key) DO UPDATE SET
		   value = EXCLUDED.value, type = EXCLUDED.type, owner = EXCLUDED.owner,
		   tags = EXCLUDED.tags, access = EXCLUDED.access, ttl_ns = EXCLUDED.ttl_ns,
		   clock = EXCLUDED.clock, version = EXCLUDED.version,
		   updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
		 WHERE memory_entries.version <= EXCLUDED.version`,
		string(e.Partition), e.Key, value, e.Type, e.Owner, pgTextArray(e.Tags), string(e.Access),
		int64(e.TTL), clock, int64(e.Version), e.UpdatedAt, nullTime(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("save entry %s: %w", e.Ref(), err)
	}
	return nil
}

// LoadEntry returns one entry, expired or not.
func (s *Store) LoadEntry(ctx context.Context, partition knowledge.Partition, key string) (*knowledge.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM memory_entries WHERE partition = $1 AND key = $2`,
		string(partition), key)
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFoundWrap(err, "load entry %s", knowledge.Ref(partition, key))
	}
	return e, nil
}

// QueryEntries returns unexpired entries in a partition matching f,
// ordered by key.
func (s *Store) QueryEntries(ctx context.Context, partition knowledge.Partition, f knowledge.Filter) ([]knowledge.Entry, error) {
	args := []any{string(partition)}
	conditions := []string{"partition = $1", "(expires_at IS NULL OR expires_at > now())"}
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Owner != "" {
		add("owner = $%d", f.Owner)
	}
	if f.Access != "" {
		add("access = $%d", string(f.Access))
	}
	if f.Prefix != "" {
		add("starts_with(key, $%d)", f.Prefix)
	}
	if len(f.Tags) > 0 {
		add("tags @> $%d", f.Tags)
	}
	query := `SELECT ` + entryColumns + ` FROM memory_entries WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY key`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries %s: %w", partition, err)
	}
	defer rows.Close()

	var entries []knowledge.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteEntry removes one entry.
func (s *Store) DeleteEntry(ctx context.Context, partition knowledge.Partition, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE partition = $1 AND key = $2`, string(partition), key)
	return execExpectOne(tag, err, "delete entry %s", knowledge.Ref(partition, key))
}

func scanEntry(row scannable) (*knowledge.Entry, error) {
	var (
		e         knowledge.Entry
		partition string
		access    string
		value     []byte
		clock     []byte
		ttl       int64
		version   int64
		expiresAt *time.Time
	)
	if err := row.Scan(&partition, &e.Key, &value, &e.Type, &e.Owner, &e.Tags, &access,
		&ttl, &clock, &version, &e.UpdatedAt, &expiresAt); err != nil {
		return nil, err
	}
	e.Partition = knowledge.Partition(partition)
	e.Access = knowledge.Access(access)
	e.TTL = time.Duration(ttl)
	e.Version = uint64(version)
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	if len(value) > 0 {
		if err := json.Unmarshal(value, &e.Value); err != nil {
			return nil, fmt.Errorf("unmarshal value: %w", err)
		}
	}
	if len(clock) > 0 {
		if err := json.Unmarshal(clock, &e.Clock); err != nil {
			return nil, fmt.Errorf("unmarshal clock: %w", err)
		}
	}
	return &e, nil
}

// --- Decisions ---

// SaveDecision upserts a resolved proposal. The full proposal is kept as
// JSON; the summary columns serve listing and filtering.
func (s *Store) SaveDecision(ctx context.Context, p *proposal.Proposal) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", p.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decisions (id, content, proposer, strategy, status, ratio, participation, executed, proposal, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, ratio = EXCLUDED.ratio, participation = EXCLUDED.participation,
		   executed = EXCLUDED.executed, proposal = EXCLUDED.proposal, resolved_at = EXCLUDED.resolved_at`,
		p.ID, p.Content, p.Proposer, string(p.Strategy), string(p.Status), p.Ratio, p.Participation,
		p.Executed, doc, p.CreatedAt, nullTime(p.ResolvedAt))
	if err != nil {
		return fmt.Errorf("save decision %s: %w", p.ID, err)
	}
	return nil
}

// GetDecision returns a persisted proposal by id.
func (s *Store) GetDecision(ctx context.Context, id string) (*proposal.Proposal, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, `SELECT proposal FROM decisions WHERE id = $1`, id).Scan(&doc); err != nil {
		return nil, notFoundWrap(err, "get decision %s", id)
	}
	var p proposal.Proposal
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("unmarshal decision %s: %w", id, err)
	}
	return &p, nil
}
