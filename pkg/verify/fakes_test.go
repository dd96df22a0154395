package verify

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/nodeclaim/pkg/domain"
	"github.com/tendant/nodeclaim/pkg/verify/verifytest"
)

// fakeResolver serves canned records per name.
type fakeResolver struct {
	txt map[string][]string
	ips map[string][]net.IP
	err error
}

func (r *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	txt, ok := r.txt[name]
	if !ok {
		return nil, errNoRecords
	}
	return txt, nil
}

func (r *fakeResolver) LookupIP(ctx context.Context, name string) ([]net.IP, error) {
	if r.err != nil {
		return nil, r.err
	}
	ips, ok := r.ips[name]
	if !ok {
		return nil, errNoRecords
	}
	return ips, nil
}

type harness struct {
	clock    *clock.Mock
	store    *verifytest.Store
	nodes    *verifytest.Nodes
	queue    *verifytest.Queue
	sessions *SessionManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	h := &harness{
		clock: mock,
		nodes: verifytest.NewNodes(),
		queue: &verifytest.Queue{},
	}
	h.store = verifytest.NewStore(h.nodes, h.queue)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.sessions = NewSessionManager(Config{ChallengeTTL: time.Hour, Clock: mock}, h.store, h.nodes, h.queue, logger)
	return h
}

func (h *harness) status(t *testing.T, id uuid.UUID) domain.Status {
	t.Helper()
	r, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

func (h *harness) create(t *testing.T, node *domain.Node, method domain.Method) *domain.VerificationRequest {
	t.Helper()
	req, err := h.sessions.CreateRequest(context.Background(), node.ID, uuid.New(), method)
	require.NoError(t, err)
	return req
}
