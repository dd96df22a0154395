// Package verifytest provides in-memory implementations of the verify
// storage interfaces for tests.
package verifytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// Store is an in-memory verify.Store with the same compare-and-set semantics
// as the Postgres repository. WithinTx writes to the Nodes and Queue it was
// created with and undoes them all if the callback fails.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	reqs  map[uuid.UUID]*domain.VerificationRequest
	nodes *Nodes
	queue *Queue
}

// NewStore creates an empty store whose transactions span nodes and queue.
func NewStore(nodes *Nodes, queue *Queue) *Store {
	return &Store{
		reqs:  make(map[uuid.UUID]*domain.VerificationRequest),
		nodes: nodes,
		queue: queue,
	}
}

func (s *Store) Create(ctx context.Context, req *domain.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reqs {
		if r.NodeID != req.NodeID || r.Method != req.Method {
			continue
		}
		if r.Status == domain.StatusPending && r.IsExpiredAt(req.CreatedAt) {
			r.Status = domain.StatusExpired
			continue
		}
		if r.Status.IsActive() {
			return domain.ErrDuplicatePending
		}
	}

	cp := *req
	s.reqs[req.ID] = &cp
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reqs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetByChallenge(ctx context.Context, challenge string) (*domain.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reqs {
		if r.Challenge == challenge {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) FindActive(ctx context.Context, nodeID uuid.UUID, method domain.Method) (*domain.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reqs {
		if r.NodeID == nodeID && r.Method == method && r.Status.IsActive() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListByClaimant(ctx context.Context, claimantID uuid.UUID, limit int) ([]*domain.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.VerificationRequest
	for _, r := range s.reqs {
		if r.ClaimantID == claimantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, upd domain.TransitionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reqs[id]
	if !ok || r.Status != from {
		return domain.ErrInvalidState
	}
	if upd.LiveAt != nil && r.IsExpiredAt(*upd.LiveAt) {
		return domain.ErrInvalidState
	}

	r.Status = to
	if upd.VerifiedAt != nil {
		r.VerifiedAt = upd.VerifiedAt
	}
	if upd.DecidedAt != nil {
		r.DecidedAt = upd.DecidedAt
	}
	if upd.Proof != nil {
		r.Proof = upd.Proof
	}
	return nil
}

func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.reqs {
		if r.Status == domain.StatusPending && r.IsExpiredAt(now) {
			r.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

// WithinTx runs fn with writes that are rolled back if fn returns an error.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.TxWriter) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) restore(prev domain.VerificationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs[prev.ID] = &prev
}

// memTx journals an undo step for every write it applies.
type memTx struct {
	store *Store
	undo  []func()
}

func (t *memTx) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, upd domain.TransitionUpdate) error {
	prev, err := t.store.GetByID(ctx, id)
	if err != nil {
		return domain.ErrInvalidState
	}
	if err := t.store.Transition(ctx, id, from, to, upd); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { t.store.restore(*prev) })
	return nil
}

func (t *memTx) MarkVerified(ctx context.Context, nodeID, claimantID uuid.UUID) error {
	nodes := t.store.nodes
	prev, err := nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := nodes.MarkVerified(ctx, nodeID, claimantID); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { nodes.restore(*prev) })
	return nil
}

func (t *memTx) Submit(ctx context.Context, item *domain.ModerationItem) error {
	queue := t.store.queue
	if err := queue.Submit(ctx, item); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { queue.remove(item.ID) })
	return nil
}

func (t *memTx) Resolve(ctx context.Context, requestID uuid.UUID, decision domain.Decision, moderatorID uuid.UUID, note string, at time.Time) error {
	queue := t.store.queue
	it, prev := queue.open(requestID)
	if err := queue.Resolve(ctx, requestID, decision, moderatorID, note, at); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { queue.put(it, prev) })
	return nil
}

// Nodes is an in-memory verify.NodeDirectory.
type Nodes struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]*domain.Node

	// MarkVerifiedErr, when set, fails every MarkVerified call.
	MarkVerifiedErr error
}

// NewNodes creates an empty directory.
func NewNodes() *Nodes {
	return &Nodes{nodes: make(map[uuid.UUID]*domain.Node)}
}

// Add registers a node. An empty identity leaves IdentityAddress unset.
func (f *Nodes) Add(ip string, port int, identity string) *domain.Node {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := &domain.Node{ID: uuid.New(), IP: ip, Port: port}
	if identity != "" {
		n.IdentityAddress = &identity
	}
	f.nodes[n.ID] = n
	return n
}

func (f *Nodes) GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[id]
	if !ok {
		return nil, domain.ErrNodeNotFound
	}
	cp := *n
	return &cp, nil
}

func (f *Nodes) MarkVerified(ctx context.Context, id, claimantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.MarkVerifiedErr != nil {
		return f.MarkVerifiedErr
	}
	n, ok := f.nodes[id]
	if !ok {
		return domain.ErrNodeNotFound
	}
	n.IsVerified = true
	n.VerifiedClaimantID = &claimantID
	return nil
}

func (f *Nodes) RecordUserAgent(ctx context.Context, id uuid.UUID, userAgent string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[id]
	if !ok {
		return domain.ErrNodeNotFound
	}
	n.UserAgent = &userAgent
	n.LastSeenAt = &seenAt
	return nil
}

func (f *Nodes) restore(prev domain.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[prev.ID] = &prev
}

// Upsert finds a node by (ip, port) or adds it, then updates the identity.
func (f *Nodes) Upsert(ctx context.Context, ip string, port int, identityAddress *string, seenAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range f.nodes {
		if n.IP == ip && n.Port == port {
			if identityAddress != nil {
				n.IdentityAddress = identityAddress
			}
			n.LastSeenAt = &seenAt
			return n.ID, nil
		}
	}
	n := &domain.Node{ID: uuid.New(), IP: ip, Port: port, IdentityAddress: identityAddress, LastSeenAt: &seenAt}
	f.nodes[n.ID] = n
	return n.ID, nil
}

// Queue is an in-memory verify.ModerationQueue.
type Queue struct {
	mu    sync.Mutex
	items []*domain.ModerationItem

	// SubmitErr, when set, fails every Submit call.
	SubmitErr error
}

func (q *Queue) Submit(ctx context.Context, item *domain.ModerationItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.SubmitErr != nil {
		return q.SubmitErr
	}
	q.items = append(q.items, item)
	return nil
}

func (q *Queue) remove(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// open returns the undecided or flagged item for requestID and a copy of it.
func (q *Queue) open(requestID uuid.UUID) (*domain.ModerationItem, domain.ModerationItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.RequestID == requestID && (it.Decision == domain.DecisionNone || it.Decision == domain.DecisionFlag) {
			return it, *it
		}
	}
	return nil, domain.ModerationItem{}
}

func (q *Queue) put(it *domain.ModerationItem, prev domain.ModerationItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	*it = prev
}

func (q *Queue) Resolve(ctx context.Context, requestID uuid.UUID, decision domain.Decision, moderatorID uuid.UUID, note string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.RequestID == requestID && (it.Decision == domain.DecisionNone || it.Decision == domain.DecisionFlag) {
			it.Decision = decision
			it.ModeratorID = &moderatorID
			it.Note = note
			it.DecidedAt = &at
			return nil
		}
	}
	return domain.ErrModerationItemNotFound
}

func (q *Queue) ListPending(ctx context.Context, limit int) ([]*domain.ModerationItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*domain.ModerationItem
	for _, it := range q.items {
		if it.Decision == domain.DecisionNone || it.Decision == domain.DecisionFlag {
			out = append(out, it)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Items returns every submitted item, decided or not.
func (q *Queue) Items() []*domain.ModerationItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*domain.ModerationItem(nil), q.items...)
}

// Count returns the number of submitted items.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
