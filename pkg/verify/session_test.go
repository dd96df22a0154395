package verify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/nodeclaim/pkg/domain"
)

func TestCreateRequest(t *testing.T) {
	h := newHarness(t)
	node := h.nodes.Add("203.0.113.10", 8333, "")
	claimant := uuid.New()

	req, err := h.sessions.CreateRequest(context.Background(), node.ID, claimant, domain.MethodDNSTXT)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, node.ID, req.NodeID)
	assert.Equal(t, claimant, req.ClaimantID)
	assert.Equal(t, h.clock.Now(), req.CreatedAt)
	assert.Equal(t, h.clock.Now().Add(time.Hour), req.ExpiresAt)
	assert.Nil(t, req.VerifiedAt)
	assert.Len(t, req.Challenge, DefaultChallengeLength)
}

func TestCreateRequest_UnknownNodeOrMethod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.sessions.CreateRequest(ctx, uuid.New(), uuid.New(), domain.MethodSignature)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)

	node := h.nodes.Add("203.0.113.10", 8333, "")
	_, err = h.sessions.CreateRequest(ctx, node.ID, uuid.New(), domain.Method("smoke_signal"))
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)
}

// Scenario E: a second request for the same (node, method) while the first is pending.
func TestCreateRequest_DuplicatePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	node := h.nodes.Add("203.0.113.10", 8333, "")

	first := h.create(t, node, domain.MethodDNSTXT)

	_, err := h.sessions.CreateRequest(ctx, node.ID, uuid.New(), domain.MethodDNSTXT)
	assert.ErrorIs(t, err, domain.ErrDuplicatePending)
	assert.Equal(t, domain.StatusPending, h.status(t, first.ID))

	// A different method on the same node is a different pair.
	_, err = h.sessions.CreateRequest(ctx, node.ID, uuid.New(), domain.MethodSignature)
	assert.NoError(t, err)
}

func TestCreateRequest_DuplicateWhileAwaitingModeration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	node := h.nodes.Add("203.0.113.10", 8333, "")

	first := h.create(t, node, domain.MethodPassiveTag)
	require.NoError(t, h.sessions.HandToModeration(ctx, first.ID, json.RawMessage(`{}`)))

	_, err := h.sessions.CreateRequest(ctx, node.ID, uuid.New(), domain.MethodPassiveTag)
	assert.ErrorIs(t, err, domain.ErrDuplicatePending)
}

func TestCreateRequest_SupersedesTimedOutPending(t *testing.T) {
	h := newHarness(t)
	node := h.nodes.Add("203.0.113.10", 8333, "")

	first := h.create(t, node, domain.MethodDNSTXT)
	h.clock.Add(2 * time.Hour)

	second := h.create(t, node, domain.MethodDNSTXT)
	assert.NotEqual(t, first.Challenge, second.Challenge)
	assert.Equal(t, domain.StatusExpired, h.status(t, first.ID))
}

func TestExpireStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)
	h.clock.Add(30 * time.Minute)
	fresh := h.create(t, h.nodes.Add("203.0.113.11", 8333, ""), domain.MethodDNSTXT)
	awaiting := h.create(t, h.nodes.Add("203.0.113.12", 8333, ""), domain.MethodDNSTXT)
	require.NoError(t, h.sessions.HandToModeration(ctx, awaiting.ID, json.RawMessage(`{}`)))

	h.clock.Add(45 * time.Minute)

	n, err := h.sessions.ExpireStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, domain.StatusExpired, h.status(t, stale.ID))
	assert.Equal(t, domain.StatusPending, h.status(t, fresh.ID))
	assert.Equal(t, domain.StatusPendingApproval, h.status(t, awaiting.ID))

	// Idempotent.
	n, err = h.sessions.ExpireStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestExpireStale_Concurrent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodPassiveTag)
	}
	h.clock.Add(2 * time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := h.sessions.ExpireStale(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 20, total)
}

func TestHandToModeration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	node := h.nodes.Add("203.0.113.10", 8333, "")
	req := h.create(t, node, domain.MethodDNSTXT)

	require.NoError(t, h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{"domain":"node.example.org"}`)))

	got, err := h.sessions.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, got.Status)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, h.clock.Now(), *got.VerifiedAt)
	assert.JSONEq(t, `{"domain":"node.example.org"}`, string(got.Proof))

	require.Equal(t, 1, h.queue.Count())
	item := h.queue.Items()[0]
	assert.Equal(t, req.ID, item.RequestID)
	var snap domain.ModerationSnapshot
	require.NoError(t, json.Unmarshal(item.Snapshot, &snap))
	assert.Equal(t, "203.0.113.10", snap.NodeIP)
	assert.Equal(t, 8333, snap.NodePort)

	err = h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Equal(t, 1, h.queue.Count())
}

func TestHandToModeration_RacingValidators(t *testing.T) {
	h := newHarness(t)
	req := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)

	const racers = 16
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.sessions.HandToModeration(context.Background(), req.ID, json.RawMessage(`{}`))
		}()
	}
	wg.Wait()
	close(errs)

	var ok, finalized int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyFinalized):
			finalized++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, finalized)
	assert.Equal(t, 1, h.queue.Count())
}

func TestHandToModeration_Expired(t *testing.T) {
	h := newHarness(t)
	req := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)
	h.clock.Add(time.Hour)

	err := h.sessions.HandToModeration(context.Background(), req.ID, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, domain.StatusExpired, h.status(t, req.ID))
	assert.Equal(t, 0, h.queue.Count())
}

func TestHandToModeration_QueueFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)

	h.queue.SubmitErr = errors.New("queue unavailable")
	err := h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAlreadyFinalized)

	got, err := h.sessions.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Nil(t, got.VerifiedAt)
	assert.Empty(t, got.Proof)
	assert.Equal(t, 0, h.queue.Count())

	h.queue.SubmitErr = nil
	require.NoError(t, h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`)))
	assert.Equal(t, domain.StatusPendingApproval, h.status(t, req.ID))
	assert.Equal(t, 1, h.queue.Count())
}

func TestDecide(t *testing.T) {
	ctx := context.Background()
	moderator := uuid.New()

	t.Run("approve flips node flag", func(t *testing.T) {
		h := newHarness(t)
		node := h.nodes.Add("203.0.113.10", 8333, "")
		req := h.create(t, node, domain.MethodDNSTXT)
		require.NoError(t, h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`)))

		got, err := h.sessions.Decide(ctx, req.ID, moderator, domain.DecisionApprove, "looks right")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, got.Status)
		assert.NotNil(t, got.DecidedAt)

		n, _ := h.nodes.GetNode(ctx, node.ID)
		assert.True(t, n.IsVerified)
		assert.Equal(t, req.ClaimantID, *n.VerifiedClaimantID)
		assert.Equal(t, domain.DecisionApprove, h.queue.Items()[0].Decision)
	})

	t.Run("approve rolls back when node flag fails", func(t *testing.T) {
		h := newHarness(t)
		node := h.nodes.Add("203.0.113.10", 8333, "")
		req := h.create(t, node, domain.MethodDNSTXT)
		require.NoError(t, h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`)))

		h.nodes.MarkVerifiedErr = errors.New("nodes table locked")
		_, err := h.sessions.Decide(ctx, req.ID, moderator, domain.DecisionApprove, "")
		require.Error(t, err)

		got, err := h.sessions.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingApproval, got.Status)
		assert.Nil(t, got.DecidedAt)
		assert.Equal(t, domain.DecisionNone, h.queue.Items()[0].Decision)

		h.nodes.MarkVerifiedErr = nil
		decided, err := h.sessions.Decide(ctx, req.ID, moderator, domain.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, decided.Status)
		n, _ := h.nodes.GetNode(ctx, node.ID)
		assert.True(t, n.IsVerified)
	})

	t.Run("reject leaves node unverified", func(t *testing.T) {
		h := newHarness(t)
		node := h.nodes.Add("203.0.113.10", 8333, "")
		req := h.create(t, node, domain.MethodDNSTXT)
		require.NoError(t, h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`)))

		got, err := h.sessions.Decide(ctx, req.ID, moderator, domain.DecisionReject, "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRejected, got.Status)

		n, _ := h.nodes.GetNode(ctx, node.ID)
		assert.False(t, n.IsVerified)
	})

	t.Run("flag keeps request awaiting approval", func(t *testing.T) {
		h := newHarness(t)
		req := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)
		require.NoError(t, h.sessions.HandToModeration(ctx, req.ID, json.RawMessage(`{}`)))

		_, err := h.sessions.Decide(ctx, req.ID, moderator, domain.DecisionFlag, "second opinion")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingApproval, h.status(t, req.ID))

		pending, err := h.sessions.PendingModeration(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("pending request cannot be decided", func(t *testing.T) {
		h := newHarness(t)
		req := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)

		for _, d := range []domain.Decision{domain.DecisionApprove, domain.DecisionReject, domain.DecisionFlag} {
			_, err := h.sessions.Decide(ctx, req.ID, moderator, d, "")
			assert.ErrorIs(t, err, domain.ErrInvalidState, "decision %s", d)
		}
		assert.Equal(t, domain.StatusPending, h.status(t, req.ID))
	})

	t.Run("unknown decision", func(t *testing.T) {
		h := newHarness(t)
		req := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)
		_, err := h.sessions.Decide(ctx, req.ID, moderator, domain.Decision("maybe"), "")
		assert.ErrorIs(t, err, domain.ErrInvalidDecision)
	})
}

func TestTransitions_AreMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	moderator := uuid.New()

	approved := h.create(t, h.nodes.Add("203.0.113.10", 8333, ""), domain.MethodDNSTXT)
	require.NoError(t, h.sessions.HandToModeration(ctx, approved.ID, json.RawMessage(`{}`)))
	_, err := h.sessions.Decide(ctx, approved.ID, moderator, domain.DecisionApprove, "")
	require.NoError(t, err)

	expired := h.create(t, h.nodes.Add("203.0.113.11", 8333, ""), domain.MethodDNSTXT)
	h.clock.Add(2 * time.Hour)
	_, err = h.sessions.ExpireStale(ctx)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{approved.ID, expired.ID} {
		before := h.status(t, id)

		assert.Error(t, h.sessions.HandToModeration(ctx, id, json.RawMessage(`{}`)))
		for _, d := range []domain.Decision{domain.DecisionApprove, domain.DecisionReject, domain.DecisionFlag} {
			_, err := h.sessions.Decide(ctx, id, moderator, d, "")
			assert.Error(t, err)
		}
		_, err := h.sessions.ExpireStale(ctx)
		require.NoError(t, err)

		assert.Equal(t, before, h.status(t, id))
		assert.NotEqual(t, domain.StatusPending, h.status(t, id))
	}
}

func TestListForClaimant(t *testing.T) {
	h := newHarness(t)
	claimant := uuid.New()
	nodeA := h.nodes.Add("203.0.113.1", 8333, "")
	nodeB := h.nodes.Add("203.0.113.2", 8333, "")

	first, err := h.sessions.CreateRequest(context.Background(), nodeA.ID, claimant, domain.MethodDNSTXT)
	require.NoError(t, err)
	h.clock.Add(time.Minute)
	second, err := h.sessions.CreateRequest(context.Background(), nodeB.ID, claimant, domain.MethodSignature)
	require.NoError(t, err)
	h.create(t, nodeA, domain.MethodPassiveTag) // someone else's

	reqs, err := h.sessions.ListForClaimant(context.Background(), claimant, 10)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, second.ID, reqs[0].ID, "newest first")
	assert.Equal(t, first.ID, reqs[1].ID)

	reqs, err = h.sessions.ListForClaimant(context.Background(), claimant, 1)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}
