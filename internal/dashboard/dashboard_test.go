package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busbuddy/internal/api"
	"busbuddy/internal/localstore"
	"busbuddy/internal/session"
	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

func TestClient_FetchAgainstServer(t *testing.T) {
	store := localstore.NewMemory()
	manager := session.NewManager(store)
	ts := httptest.NewServer(api.NewServer(manager, store, api.Options{}))
	defer ts.Close()

	ctx := context.Background()
	created, err := manager.CreateSession(ctx, interfaces.CreateSessionParams{Name: "Trip", LeaderName: "Ana"})
	require.NoError(t, err)
	ben, err := manager.JoinSession(ctx, created.Session.ID, "Ben", "")
	require.NoError(t, err)
	_, err = manager.UpdateMemberStatus(ctx, created.Session.ID, ben.ID, types.StatusMissing)
	require.NoError(t, err)

	client := NewClient(ts.URL+"/", nil)
	snap, err := client.Fetch(ctx, created.Session.ShortID)
	require.NoError(t, err)

	assert.Equal(t, created.Session.ID, snap.Session.ID)
	assert.Len(t, snap.Members, 2)
	assert.Equal(t, types.Stats{Total: 2, Present: 1, Missing: 1}, snap.Stats.Strict)
	assert.Len(t, snap.Roster.Missing, 1)

	_, err = client.Fetch(ctx, "NOPE0000")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestClient_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error","code":500,"message":"internal error"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, nil).Fetch(context.Background(), "ABCD1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.NotErrorIs(t, err, types.ErrNotFound)
}

// scriptedFetcher returns queued results, then the last one forever
type scriptedFetcher struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
}

func (f *scriptedFetcher) Fetch(ctx context.Context, shortID string) (*Snapshot, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	if err != nil {
		return nil, err
	}
	return &Snapshot{}, nil
}

func TestPoller_FetchesImmediatelyAndOnTicks(t *testing.T) {
	fetcher := &scriptedFetcher{results: []error{nil}}
	updates := make(chan *Snapshot, 16)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(fetcher, "ABCD1234", 10*time.Millisecond, func(s *Snapshot) { updates <- s })

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-updates:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected update %d", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}

func TestPoller_FailedFetchWaitsForNextTick(t *testing.T) {
	fetcher := &scriptedFetcher{results: []error{errors.New("timeout"), types.ErrSessionNotFound, nil}}
	updates := make(chan *Snapshot, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPoller(fetcher, "ABCD1234", 10*time.Millisecond, func(s *Snapshot) { updates <- s })

	go func() { _ = p.Run(ctx) }()

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("poller should recover after failed fetches")
	}
	assert.GreaterOrEqual(t, fetcher.calls.Load(), int32(3))
}

func TestPoller_StopWhenGone(t *testing.T) {
	fetcher := &scriptedFetcher{results: []error{types.ErrSessionNotFound}}
	p := NewPoller(fetcher, "ABCD1234", time.Hour, nil)
	p.StopWhenGone = true

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	p := NewPoller(&scriptedFetcher{results: []error{nil}}, "X", 0, nil)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
