package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/event"
	"github.com/Strob0t/swarmcore/internal/domain/knowledge"
	"github.com/Strob0t/swarmcore/internal/port/cache"
	"github.com/Strob0t/swarmcore/internal/port/database"
	"github.com/Strob0t/swarmcore/internal/port/replica"
	"github.com/Strob0t/swarmcore/internal/resilience"
)

// MemoryService is the partitioned shared memory. Durable partitions live in
// per-key slots read lock-free and written under a per-key mutex held only
// while clocks are reconciled; writes then fan out to replica holders and
// the persistence store. The cache partition is an in-process TTL+LRU.
type MemoryService struct {
	cfg    config.Memory
	policy knowledge.Policy

	slots sync.Map // ref -> *slot

	scratchMu sync.Mutex
	scratch   *expirable.LRU[string, *knowledge.Entry]

	holders []*holderLink
	store   database.Store
	hydrate cache.Cache
	events  *EventRecorder

	conflicts atomic.Int64
	now       func() time.Time
}

type slot struct {
	mu  sync.Mutex
	cur atomic.Pointer[knowledge.Entry]
}

type holderLink struct {
	holder  replica.Holder
	breaker *resilience.Breaker
}

// NewMemoryService creates a memory store with the configured conflict policy.
func NewMemoryService(cfg config.Memory, events *EventRecorder) (*MemoryService, error) {
	policy := knowledge.Policy(cfg.ConflictPolicy)
	if policy == "" {
		policy = knowledge.PolicyLastWriterWins
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown conflict policy %q", domain.ErrValidation, cfg.ConflictPolicy)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &MemoryService{
		cfg:     cfg,
		policy:  policy,
		scratch: expirable.NewLRU[string, *knowledge.Entry](cfg.CacheSize, nil, cfg.CacheTTL),
		events:  events,
		now:     time.Now,
	}, nil
}

// Policy returns the configured conflict policy.
func (s *MemoryService) Policy() knowledge.Policy { return s.policy }

// AddHolder registers a replica holder guarded by breaker.
func (s *MemoryService) AddHolder(h replica.Holder, breaker *resilience.Breaker) {
	s.holders = append(s.holders, &holderLink{holder: h, breaker: breaker})
}

// SetStore sets the persistence collaborator for durable partitions.
func (s *MemoryService) SetStore(store database.Store) {
	s.store = store
}

// SetHydrationCache sets the cache consulted before the store on a local miss.
func (s *MemoryService) SetHydrationCache(c cache.Cache) {
	s.hydrate = c
}

// Put writes a value. The returned outcome says whether the write applied,
// merged with a concurrent write, or was superseded by a newer stored value.
// Under the manual policy a concurrent write fails with *knowledge.ConflictError.
func (s *MemoryService) Put(ctx context.Context, req knowledge.PutRequest) (*knowledge.Entry, knowledge.Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if !req.Partition.Durable() {
		return s.putScratch(req)
	}

	ref := knowledge.Ref(req.Partition, req.Key)
	sl := s.slot(ref)
	now := s.now()

	// Recovery reads happen before the slot is locked; the lock covers only
	// the clock merge.
	var fetched *knowledge.Entry
	if sl.cur.Load() == nil {
		fetched = s.fetch(ctx, ref, req.Partition, req.Key)
	}

	sl.mu.Lock()
	cur := sl.cur.Load()
	if cur == nil && fetched != nil {
		cur = fetched
		sl.cur.Store(cur)
	}
	result, outcome, err := s.reconcile(cur, req, now)
	if err != nil {
		sl.mu.Unlock()
		s.surfaceConflict(ctx, err)
		return nil, "", err
	}
	if outcome != knowledge.OutcomeSuperseded {
		sl.cur.Store(result)
	}
	sl.mu.Unlock()

	if outcome == knowledge.OutcomeSuperseded {
		return result.Clone(), outcome, nil
	}
	if outcome == knowledge.OutcomeMerged {
		s.conflicts.Add(1)
		s.events.Emit(ctx, event.Event{Type: event.TypeMemoryConflict, AgentID: req.Owner}, map[string]any{
			"ref":        ref,
			"policy":     s.policy,
			"resolution": "merged",
			"clock":      result.Clock.String(),
		})
	}
	s.replicate(ctx, result)
	s.persist(ctx, result)
	return result.Clone(), outcome, nil
}

// reconcile builds the incoming entry from req and merges it over cur.
func (s *MemoryService) reconcile(cur *knowledge.Entry, req knowledge.PutRequest, now time.Time) (*knowledge.Entry, knowledge.Outcome, error) {
	base := req.BaseClock
	if base == nil && cur != nil {
		base = cur.Clock
	}
	incoming := &knowledge.Entry{
		Partition: req.Partition,
		Key:       req.Key,
		Value:     req.Value,
		Type:      req.Type,
		Owner:     req.Owner,
		Tags:      append([]string(nil), req.Tags...),
		Access:    req.Access,
		TTL:       req.TTL,
		Clock:     base.Tick(req.Owner),
		UpdatedAt: now,
	}
	if incoming.Access == "" {
		incoming.Access = knowledge.AccessPublic
	}
	ttl := req.TTL
	if req.Partition == knowledge.PartitionCache && (ttl == 0 || ttl > s.cfg.CacheTTL) {
		ttl = s.cfg.CacheTTL
	}
	if ttl > 0 {
		incoming.ExpiresAt = now.Add(ttl)
	}

	var prevVersion uint64
	if cur != nil {
		prevVersion = cur.Version
		if cur.Expired(now) {
			cur = nil
		}
	}
	result, outcome, err := knowledge.Reconcile(s.policy, cur, incoming)
	if err != nil {
		return nil, "", err
	}
	if result.Version == 0 {
		result.Version = prevVersion + 1
	}
	return result, outcome, nil
}

func (s *MemoryService) putScratch(req knowledge.PutRequest) (*knowledge.Entry, knowledge.Outcome, error) {
	ref := knowledge.Ref(req.Partition, req.Key)
	s.scratchMu.Lock()
	defer s.scratchMu.Unlock()
	cur, _ := s.scratch.Get(ref)
	result, outcome, err := s.reconcile(cur, req, s.now())
	if err != nil {
		return nil, "", err
	}
	if outcome != knowledge.OutcomeSuperseded {
		s.scratch.Add(ref, result)
	}
	return result.Clone(), outcome, nil
}

func (s *MemoryService) surfaceConflict(ctx context.Context, err error) {
	var ce *knowledge.ConflictError
	if !errors.As(err, &ce) {
		return
	}
	s.conflicts.Add(1)
	slog.Warn("memory conflict surfaced", "ref", ce.Current.Ref(), "stored", ce.Current.Clock.String(), "incoming", ce.Incoming.Clock.String())
	s.events.Emit(ctx, event.Event{Type: event.TypeMemoryConflict, AgentID: ce.Incoming.Owner}, map[string]any{
		"ref":        ce.Current.Ref(),
		"policy":     s.policy,
		"resolution": "surfaced",
		"stored":     ce.Current.Clock.String(),
		"incoming":   ce.Incoming.Clock.String(),
		"merged":     ce.Merged.String(),
	})
}

// Get returns the current value for a key. Expired entries read as not found.
func (s *MemoryService) Get(ctx context.Context, partition knowledge.Partition, key string) (*knowledge.Entry, error) {
	if !partition.Valid() {
		return nil, fmt.Errorf("%w: invalid partition %q", domain.ErrValidation, partition)
	}
	ref := knowledge.Ref(partition, key)
	now := s.now()

	if !partition.Durable() {
		s.scratchMu.Lock()
		e, ok := s.scratch.Get(ref)
		s.scratchMu.Unlock()
		if !ok || e.Expired(now) {
			return nil, fmt.Errorf("memory %s: %w", ref, domain.ErrNotFound)
		}
		return e.Clone(), nil
	}

	if v, ok := s.slots.Load(ref); ok {
		if e := v.(*slot).cur.Load(); e != nil {
			if e.Expired(now) {
				return nil, fmt.Errorf("memory %s: %w", ref, domain.ErrNotFound)
			}
			return e.Clone(), nil
		}
	}

	e := s.fetch(ctx, ref, partition, key)
	if e == nil || e.Expired(now) {
		return nil, fmt.Errorf("memory %s: %w", ref, domain.ErrNotFound)
	}
	sl := s.slot(ref)
	sl.cur.CompareAndSwap(nil, e)
	return sl.cur.Load().Clone(), nil
}

// Query returns entries in a partition matching f, ordered by key.
func (s *MemoryService) Query(ctx context.Context, partition knowledge.Partition, f knowledge.Filter) ([]knowledge.Entry, error) {
	if !partition.Valid() {
		return nil, fmt.Errorf("%w: invalid partition %q", domain.ErrValidation, partition)
	}
	now := s.now()
	found := make(map[string]knowledge.Entry)

	if !partition.Durable() {
		s.scratchMu.Lock()
		for _, e := range s.scratch.Values() {
			if !e.Expired(now) && f.Match(e) {
				found[e.Key] = *e.Clone()
			}
		}
		s.scratchMu.Unlock()
	} else {
		prefix := string(partition) + "/"
		s.slots.Range(func(k, v any) bool {
			if !strings.HasPrefix(k.(string), prefix) {
				return true
			}
			if e := v.(*slot).cur.Load(); e != nil && !e.Expired(now) && f.Match(e) {
				found[e.Key] = *e.Clone()
			}
			return true
		})
		if s.store != nil {
			stored, err := s.store.QueryEntries(ctx, partition, f)
			if err != nil {
				slog.Warn("query persisted entries", "partition", partition, "error", err)
			}
			for i := range stored {
				e := &stored[i]
				if _, local := found[e.Key]; local {
					continue
				}
				if _, loaded := s.slots.Load(e.Ref()); loaded {
					continue
				}
				if !e.Expired(now) && f.Match(e) {
					found[e.Key] = *e
				}
			}
		}
	}

	out := make([]knowledge.Entry, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes a key locally, from its replicas, and from the store.
func (s *MemoryService) Delete(ctx context.Context, partition knowledge.Partition, key string) error {
	if !partition.Valid() {
		return fmt.Errorf("%w: invalid partition %q", domain.ErrValidation, partition)
	}
	ref := knowledge.Ref(partition, key)
	if !partition.Durable() {
		s.scratchMu.Lock()
		s.scratch.Remove(ref)
		s.scratchMu.Unlock()
		return nil
	}
	for _, l := range s.placement(ref) {
		if err := l.breaker.Do(ctx, func(ctx context.Context) error { return l.holder.Delete(ctx, ref) }); err != nil {
			slog.Warn("delete replica", "ref", ref, "holder", l.holder.ID(), "error", err)
		}
	}
	if s.hydrate != nil {
		_ = s.hydrate.Delete(ctx, ref)
	}
	var err error
	if s.store != nil {
		if derr := s.store.DeleteEntry(ctx, partition, key); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			err = fmt.Errorf("delete %s: %w", ref, derr)
		}
	}
	// The slot stays so a writer already holding it stays visible.
	if v, ok := s.slots.Load(ref); ok {
		sl := v.(*slot)
		sl.mu.Lock()
		sl.cur.Store(nil)
		sl.mu.Unlock()
	}
	return err
}

// HolderStatus reports one replica holder's breaker state.
type HolderStatus struct {
	ID    string           `json:"id"`
	State resilience.State `json:"state"`
}

// MemoryStats summarizes the store.
type MemoryStats struct {
	Policy    knowledge.Policy            `json:"policy"`
	Entries   map[knowledge.Partition]int `json:"entries"`
	Holders   []HolderStatus              `json:"holders"`
	Conflicts int64                       `json:"conflicts"`
}

// Stats returns entry counts per partition and holder health.
func (s *MemoryService) Stats() MemoryStats {
	st := MemoryStats{
		Policy:    s.policy,
		Entries:   make(map[knowledge.Partition]int, len(knowledge.Partitions)),
		Conflicts: s.conflicts.Load(),
	}
	s.slots.Range(func(k, v any) bool {
		if v.(*slot).cur.Load() == nil {
			return true
		}
		p, _, _ := strings.Cut(k.(string), "/")
		st.Entries[knowledge.Partition(p)]++
		return true
	})
	s.scratchMu.Lock()
	st.Entries[knowledge.PartitionCache] = s.scratch.Len()
	s.scratchMu.Unlock()
	for _, l := range s.holders {
		st.Holders = append(st.Holders, HolderStatus{ID: l.holder.ID(), State: l.breaker.State()})
	}
	return st
}

func (s *MemoryService) slot(ref string) *slot {
	if v, ok := s.slots.Load(ref); ok {
		return v.(*slot)
	}
	v, _ := s.slots.LoadOrStore(ref, &slot{})
	return v.(*slot)
}

// placement picks the replicationFactor holders for ref by rendezvous
// hashing, so every process agrees on placement without coordination.
func (s *MemoryService) placement(ref string) []*holderLink {
	type ranked struct {
		link  *holderLink
		score uint64
	}
	rs := make([]ranked, 0, len(s.holders))
	for _, l := range s.holders {
		h := fnv.New64a()
		_, _ = h.Write([]byte(l.holder.ID()))
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(ref))
		rs = append(rs, ranked{link: l, score: h.Sum64()})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].score > rs[j].score })
	n := s.cfg.ReplicationFactor
	if n <= 0 || n > len(rs) {
		n = len(rs)
	}
	out := make([]*holderLink, n)
	for i := range n {
		out[i] = rs[i].link
	}
	return out
}

// replicate copies e to its holders concurrently. Failures are logged; the
// local write already succeeded.
func (s *MemoryService) replicate(ctx context.Context, e *knowledge.Entry) {
	targets := s.placement(e.Ref())
	if len(targets) == 0 {
		return
	}
	var g errgroup.Group
	var failed atomic.Int32
	for _, l := range targets {
		g.Go(func() error {
			err := l.breaker.Do(ctx, func(ctx context.Context) error { return l.holder.Put(ctx, e) })
			if err != nil {
				failed.Add(1)
				slog.Warn("replicate entry", "ref", e.Ref(), "holder", l.holder.ID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if n := failed.Load(); int(n) == len(targets) {
		slog.Error("entry has no live replica", "ref", e.Ref(), "holders", len(targets))
	}
}

func (s *MemoryService) persist(ctx context.Context, e *knowledge.Entry) {
	if s.store != nil {
		if err := s.store.SaveEntry(ctx, e); err != nil {
			slog.Warn("persist entry", "ref", e.Ref(), "error", err)
		}
	}
	if s.hydrate != nil {
		if b, err := json.Marshal(e); err == nil {
			_ = s.hydrate.Set(ctx, e.Ref(), b, s.cfg.CacheTTL)
		}
	}
}

// fetch recovers an entry missing locally: the newest replica among its
// holders, then the hydration cache, then the store. It returns nil when
// no copy exists anywhere.
func (s *MemoryService) fetch(ctx context.Context, ref string, partition knowledge.Partition, key string) *knowledge.Entry {
	var best *knowledge.Entry
	for _, l := range s.placement(ref) {
		var got *knowledge.Entry
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			e, err := l.holder.Get(ctx, ref)
			got = e
			return err
		})
		if err != nil {
			slog.Debug("replica read failed", "ref", ref, "holder", l.holder.ID(), "error", err)
			continue
		}
		if got != nil && (best == nil || got.Version > best.Version) {
			best = got
		}
	}
	if best != nil {
		return best
	}

	if s.hydrate != nil {
		if b, ok, err := s.hydrate.Get(ctx, ref); err == nil && ok {
			var e knowledge.Entry
			if err := json.Unmarshal(b, &e); err == nil {
				return &e
			}
		}
	}
	if s.store != nil {
		e, err := s.store.LoadEntry(ctx, partition, key)
		switch {
		case err == nil:
			return e
		case !errors.Is(err, domain.ErrNotFound):
			slog.Warn("load persisted entry", "ref", ref, "error", err)
		}
	}
	return nil
}
