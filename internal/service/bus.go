package service

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	swarmotel "github.com/Strob0t/swarmcore/internal/adapter/otel"
	"github.com/Strob0t/swarmcore/internal/config"
	"github.com/Strob0t/swarmcore/internal/domain"
	"github.com/Strob0t/swarmcore/internal/domain/message"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("bus closed")

// Handler processes one dispatched message.
type Handler func(ctx context.Context, m *message.Message) error

// Routes maps message types to the handler that acts on them.
type Routes map[message.Type]Handler

// Forwarder carries locally published messages to other processes.
type Forwarder interface {
	Forward(ctx context.Context, m *message.Message) error
}

// BusService is the in-process communication bus. Every member agent has a
// bounded inbound queue ordered by urgency then arrival; a dispatch loop
// routes each published message to the handler for its type.
type BusService struct {
	cfg config.Bus

	mu      sync.Mutex
	members map[string]*mailbox
	closed  bool

	// backlog feeds the dispatch loop. It is unbounded so handlers may
	// publish without deadlocking the loop that runs them.
	backlogMu sync.Mutex
	backlog   []*message.Message
	notify    chan struct{}

	forwarder Forwarder
	seq       atomic.Uint64
	dropped   atomic.Int64
	now       func() time.Time
}

// NewBusService creates a bus with the given queue bounds.
func NewBusService(cfg config.Bus) *BusService {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 1024
	}
	return &BusService{
		cfg:     cfg,
		members: make(map[string]*mailbox),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// SetForwarder installs a transport bridge for outbound messages.
func (s *BusService) SetForwarder(f Forwarder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarder = f
}

// Join subscribes an agent to channels. No channels means all of them.
// Joining again replaces the subscription but keeps queued messages.
func (s *BusService) Join(agentID string, channels ...message.Channel) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", domain.ErrValidation)
	}
	if len(channels) == 0 {
		channels = message.Channels
	}
	for _, c := range channels {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, c)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.members[agentID]
	if !ok {
		mb = newMailbox(s.cfg.QueueCapacity)
		s.members[agentID] = mb
	}
	mb.setChannels(channels)
	return nil
}

// Leave removes an agent and discards its queue.
func (s *BusService) Leave(agentID string) {
	s.mu.Lock()
	mb, ok := s.members[agentID]
	delete(s.members, agentID)
	s.mu.Unlock()
	if ok {
		mb.close()
	}
}

// Publish validates and stamps m, delivers it to the inbound queues of its
// recipients, and hands it to the dispatch loop. A message with To set goes
// to that agent only; otherwise every member subscribed to the channel
// except the sender receives it.
func (s *BusService) Publish(ctx context.Context, m *message.Message) error {
	if !m.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, m.Channel)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: message type is required", domain.ErrValidation)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrBusClosed
	}
	var targets []*mailbox
	if m.To != "" {
		if mb, ok := s.members[m.To]; ok {
			targets = append(targets, mb)
		}
	} else {
		for id, mb := range s.members {
			if id != m.From && mb.subscribed(m.Channel) {
				targets = append(targets, mb)
			}
		}
	}
	fwd := s.forwarder
	s.mu.Unlock()

	seq := s.seq.Add(1)
	for _, mb := range targets {
		if !mb.push(m, seq) {
			s.dropped.Add(1)
			slog.Warn("bus queue full, message dropped", "type", m.Type, "channel", m.Channel, "message_id", m.ID)
		}
	}

	s.enqueue(m)

	if fwd != nil && !m.Remote {
		if err := fwd.Forward(ctx, m); err != nil {
			slog.Warn("bus forward failed", "type", m.Type, "message_id", m.ID, "error", err)
		}
	}
	return nil
}

// Inject publishes a message received from a transport bridge.
func (s *BusService) Inject(ctx context.Context, m *message.Message) error {
	m.Remote = true
	return s.Publish(ctx, m)
}

// Send is a convenience wrapper that encodes payload and publishes.
func (s *BusService) Send(ctx context.Context, ch message.Channel, typ message.Type, from, to string, payload any) error {
	return s.Publish(ctx, &message.Message{
		Channel: ch,
		Type:    typ,
		From:    from,
		To:      to,
		Payload: message.Encode(payload),
	})
}

// Receive blocks until the agent's queue has a message or ctx is done.
func (s *BusService) Receive(ctx context.Context, agentID string) (*message.Message, error) {
	mb, err := s.mailbox(agentID)
	if err != nil {
		return nil, err
	}
	for {
		if m, ok := mb.pop(); ok {
			return m, nil
		}
		ready, open := mb.wait()
		if !open {
			return nil, fmt.Errorf("agent %s left the bus: %w", agentID, domain.ErrNotFound)
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive returns the next queued message without blocking.
func (s *BusService) TryReceive(agentID string) (*message.Message, bool) {
	mb, err := s.mailbox(agentID)
	if err != nil {
		return nil, false
	}
	return mb.pop()
}

// Pending returns the number of messages queued for an agent.
func (s *BusService) Pending(agentID string) int {
	mb, err := s.mailbox(agentID)
	if err != nil {
		return 0
	}
	return mb.len()
}

// Dropped returns how many deliveries were refused because a queue was full.
func (s *BusService) Dropped() int64 {
	return s.dropped.Load()
}

// Members returns the ids of every joined agent.
func (s *BusService) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *BusService) enqueue(m *message.Message) {
	s.backlogMu.Lock()
	s.backlog = append(s.backlog, m)
	n := len(s.backlog)
	s.backlogMu.Unlock()
	if n == s.cfg.DispatchBuffer {
		slog.Warn("bus dispatch backlog growing", "pending", n)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run dispatches published messages to routes until ctx is done. Handler
// errors and panics are logged and never stop the loop.
func (s *BusService) Run(ctx context.Context, routes Routes) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.notify:
		}
		s.backlogMu.Lock()
		batch := s.backlog
		s.backlog = nil
		s.backlogMu.Unlock()
		for _, m := range batch {
			if ctx.Err() != nil {
				return nil
			}
			h, ok := routes[m.Type]
			if !ok {
				continue
			}
			hctx, span := swarmotel.StartMessageSpan(ctx, string(m.Type), string(m.Channel))
			if err := safeCall(hctx, h, m); err != nil {
				span.SetStatus(codes.Error, err.Error())
				slog.Warn("bus handler failed", "type", m.Type, "from", m.From, "message_id", m.ID, "error", err)
			}
			span.End()
		}
	}
}

// Close stops accepting messages and wakes every blocked receiver.
func (s *BusService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	members := s.members
	s.members = make(map[string]*mailbox)
	s.mu.Unlock()
	for _, mb := range members {
		mb.close()
	}
}

func (s *BusService) mailbox(agentID string) (*mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.members[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s is not on the bus: %w", agentID, domain.ErrNotFound)
	}
	return mb, nil
}

func safeCall(ctx context.Context, h Handler, m *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			slog.Error("bus handler panic", "type", m.Type, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return h(ctx, m)
}

// mailbox is one agent's bounded priority queue.
type mailbox struct {
	mu       sync.Mutex
	items    queue
	capacity int
	channels []message.Channel
	ready    chan struct{}
	closed   bool
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{capacity: capacity, ready: make(chan struct{})}
}

func (mb *mailbox) setChannels(chs []message.Channel) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.channels = slices.Clone(chs)
}

func (mb *mailbox) subscribed(ch message.Channel) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return slices.Contains(mb.channels, ch)
}

// push enqueues m. A full queue refuses non-urgent messages; an urgent one
// evicts the newest non-urgent entry instead.
func (mb *mailbox) push(m *message.Message, seq uint64) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return false
	}
	if len(mb.items) >= mb.capacity {
		if !m.Type.Urgent() || !mb.evictNewestNormal() {
			return false
		}
	}
	heap.Push(&mb.items, &queued{msg: m, urgent: m.Type.Urgent(), seq: seq})
	close(mb.ready)
	mb.ready = make(chan struct{})
	return true
}

func (mb *mailbox) evictNewestNormal() bool {
	idx := -1
	for i, q := range mb.items {
		if !q.urgent && (idx < 0 || q.seq > mb.items[idx].seq) {
			idx = i
		}
	}
	if idx < 0 {
		return false
	}
	heap.Remove(&mb.items, idx)
	return true
}

func (mb *mailbox) pop() (*message.Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.items) == 0 {
		return nil, false
	}
	return heap.Pop(&mb.items).(*queued).msg, true
}

func (mb *mailbox) len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.items)
}

// wait returns a channel closed on the next push, and false once the
// mailbox is closed.
func (mb *mailbox) wait() (<-chan struct{}, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.ready, !mb.closed
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.ready)
}

type queued struct {
	msg    *message.Message
	urgent bool
	seq    uint64
}

// queue implements heap.Interface: urgent first, then FIFO.
type queue []*queued

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].urgent != q[j].urgent {
		return q[i].urgent
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*queued)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
