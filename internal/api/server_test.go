package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busbuddy/internal/localstore"
	"busbuddy/internal/session"
	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type fixedHealth struct{ err error }

func (f fixedHealth) HealthCheck(context.Context) error { return f.err }

func newTestServer(t *testing.T, opts Options) (*Server, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	store := localstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	manager := session.NewManager(store, session.WithClock(clock.Now), session.WithMaxDuration(7*24*time.Hour))
	return NewServer(manager, store, opts), clock
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createSession(t *testing.T, h http.Handler, body string) CreateSessionResponse {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[CreateSessionResponse](t, w)
}

// FUNCTIONAL VALIDATION TEST: the full leader and member flow over HTTP
func TestServer_AttendanceFlow(t *testing.T) {
	srv, _ := newTestServer(t, Options{PublicBaseURL: "https://bus.example/"})

	created := createSession(t, srv, `{"name":"Field Trip","leaderName":"Ana"}`)
	require.NotNil(t, created.LeaderMember)
	assert.Equal(t, types.RoleLeader, created.LeaderMember.Role)
	assert.Equal(t, types.StatusPresent, created.LeaderMember.Status)
	assert.Equal(t, "https://bus.example/join/"+created.Session.ShortID, created.Session.CheckInURL)
	assert.Equal(t, "https://bus.example/checkout/"+created.Session.ShortID, created.Session.CheckOutURL)
	assert.Equal(t, 24*time.Hour, created.Session.ExpiresAt.Sub(created.Session.CreatedAt))

	w := do(t, srv, http.MethodGet, "/api/sessions/short/"+created.Session.ShortID, "")
	require.Equal(t, http.StatusOK, w.Code)
	resolved := decode[SessionView](t, w)
	sid := resolved.ID

	w = do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Ben"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ben := decode[types.Member](t, w)
	assert.Equal(t, types.RoleMember, ben.Role)
	assert.Equal(t, types.StatusJoined, ben.Status)

	w = do(t, srv, http.MethodPatch, "/api/"+sid+"/members/"+ben.ID, `{"status":"present"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.StatusPresent, decode[types.Member](t, w).Status)

	w = do(t, srv, http.MethodGet, "/api/"+sid+"/members", "")
	require.Equal(t, http.StatusOK, w.Code)
	members := decode[[]types.Member](t, w)
	require.Len(t, members, 2)
	assert.Equal(t, "Ana", members[0].Name)
	assert.Equal(t, "Ben", members[1].Name)
	assert.Equal(t, types.StatusPresent, members[1].Status)

	w = do(t, srv, http.MethodGet, "/api/sessions/short/"+created.Session.ShortID+"/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	dash := decode[DashboardResponse](t, w)
	assert.Equal(t, types.Stats{Total: 2, Present: 2, Missing: 0}, dash.Stats.Strict)
	assert.Len(t, dash.Roster.Present, 2)
	assert.Empty(t, dash.Roster.Joined)
}

func TestServer_CreateSessionValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing name", `{}`, http.StatusBadRequest},
		{"bad json", `{"name":`, http.StatusBadRequest},
		{"negative duration", `{"name":"Trip","durationMs":-1}`, http.StatusBadRequest},
		{"too long", `{"name":"Trip","durationMs":864000000}`, http.StatusBadRequest},
		{"overflowing duration", `{"name":"Trip","durationMs":9223372036854775807}`, http.StatusBadRequest},
		{"explicit duration", `{"name":"Trip","durationMs":3600000}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code == http.StatusBadRequest {
				body := decode[ErrorResponse](t, w)
				assert.Equal(t, http.StatusBadRequest, body.Code)
				assert.Equal(t, "Bad Request", body.Error)
			}
		})
	}
}

func TestServer_CreateWithoutLeaderOmitsLeaderMember(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	w := do(t, srv, http.MethodPost, "/api/sessions", `{"name":"Museum"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "leaderMember")
	assert.NotContains(t, w.Body.String(), "check_in_url")
}

// FUNCTIONAL VALIDATION TEST: expired sessions read as not found everywhere
func TestServer_ExpiredSessionIsNotFound(t *testing.T) {
	srv, clock := newTestServer(t, Options{})
	created := createSession(t, srv, `{"name":"Quick","durationMs":60000}`)
	sid := created.Session.ID

	clock.now = clock.now.Add(time.Minute)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/sessions/" + sid, ""},
		{http.MethodGet, "/api/sessions/short/" + created.Session.ShortID, ""},
		{http.MethodGet, "/api/sessions/short/" + created.Session.ShortID + "/dashboard", ""},
		{http.MethodGet, "/api/" + sid + "/members", ""},
		{http.MethodPost, "/api/" + sid + "/members", `{"name":"Late"}`},
	} {
		w := do(t, srv, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

// racingStore hides existing members from the name lookup so the second
// insert reaches the storage uniqueness rule
type racingStore struct {
	interfaces.Store
}

func (racingStore) FindMemberByName(context.Context, string, string) (*types.Member, error) {
	return nil, types.ErrMemberNotFound
}

// FUNCTIONAL VALIDATION TEST: a racing same-name join surfaces as 409
func TestServer_RacingJoinReturnsConflict(t *testing.T) {
	store := localstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	srv := NewServer(session.NewManager(racingStore{Store: store}), store, Options{})

	sid := createSession(t, srv, `{"name":"Trip"}`).Session.ID

	w := do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Ann"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"ann"}`)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, http.StatusConflict, body.Code)
	assert.Equal(t, "Conflict", body.Error)

	members := decode[[]types.Member](t, do(t, srv, http.MethodGet, "/api/"+sid+"/members", ""))
	assert.Len(t, members, 1)
}

func TestServer_RejoinReturnsSameMember(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	sid := createSession(t, srv, `{"name":"Trip"}`).Session.ID

	first := decode[types.Member](t, do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Ann"}`))
	w := do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"ann","phoneNumber":"555"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[types.Member](t, w)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.StatusPresent, second.Status)
	assert.Equal(t, "555", second.PhoneNumber)
}

func TestServer_UpdateMemberStatusErrors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	sid := createSession(t, srv, `{"name":"Trip"}`).Session.ID
	ana := decode[types.Member](t, do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Ana"}`))

	w := do(t, srv, http.MethodPatch, "/api/"+sid+"/members/"+ana.ID, `{"status":"lost"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPatch, "/api/"+sid+"/members/nobody", `{"status":"present"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPatch, "/api/missing-session/members/"+ana.ID, `{"status":"present"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// the failed updates left the member untouched
	members := decode[[]types.Member](t, do(t, srv, http.MethodGet, "/api/"+sid+"/members", ""))
	require.Len(t, members, 1)
	assert.Equal(t, types.StatusJoined, members[0].Status)
}

func TestServer_DeleteSession(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	sid := createSession(t, srv, `{"name":"Trip","leaderName":"Lee"}`).Session.ID

	w := do(t, srv, http.MethodDelete, "/api/sessions/"+sid, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/api/sessions/"+sid, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ExportMembers(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	created := createSession(t, srv, `{"name":"Trip","leaderName":"Lee"}`)
	sid := created.Session.ID
	do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Ana","phoneNumber":"555-0100"}`)

	w := do(t, srv, http.MethodGet, "/api/"+sid+"/members/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), created.Session.ShortID)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "Ana,member,joined,555-0100,"))

	w = do(t, srv, http.MethodGet, "/api/"+sid+"/members/export?format=xlsx", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK", w.Body.String()[:2], "xlsx is a zip container")

	w = do(t, srv, http.MethodGet, "/api/"+sid+"/members/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_CORS(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	w := do(t, srv, http.MethodOptions, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestServer_RoutingErrors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/api/sessions", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/sessions/a/b/c/d", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/abc/things", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodPut, "/api/abc/members", "").Code)
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(nil, fixedHealth{}, Options{})
	w := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[HealthResponse](t, w)
	assert.Equal(t, "OK", body.Status)
	assert.False(t, body.Timestamp.IsZero())

	srv = NewServer(nil, fixedHealth{err: errors.New("db down")}, Options{})
	w = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "UNAVAILABLE", decode[HealthResponse](t, w).Status)
}

// failingManager reports an unexpected storage error from every call
type failingManager struct {
	interfaces.SessionManager
}

func (failingManager) GetSession(context.Context, string) (*types.Session, error) {
	return nil, errors.New("connection reset: secret details")
}

func TestServer_UnexpectedErrorsAreOpaque(t *testing.T) {
	srv := NewServer(failingManager{}, nil, Options{})

	w := do(t, srv, http.MethodGet, "/api/sessions/abc", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[ErrorResponse](t, w)
	assert.Equal(t, "internal error", body.Message)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestServer_RateLimitsWrites(t *testing.T) {
	srv, _ := newTestServer(t, Options{Limiter: NewRateLimiter(2, time.Minute)})

	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/sessions", `{"name":"A"}`).Code)
	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/sessions", `{"name":"B"}`).Code)
	w := do(t, srv, http.MethodPost, "/api/sessions", `{"name":"C"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are never throttled
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/health", "").Code)
}

// FUNCTIONAL VALIDATION TEST: both attendance modes over the stats and dashboard reads
func TestServer_MemberStatsModes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	created := createSession(t, srv, `{"name":"Zoo","leaderName":"Ana"}`)
	sid := created.Session.ID

	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Ben"}`).Code)
	cy := decode[types.Member](t, do(t, srv, http.MethodPost, "/api/"+sid+"/members", `{"name":"Cy"}`))
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPatch, "/api/"+sid+"/members/"+cy.ID, `{"status":"missing"}`).Code)

	tests := []struct {
		query string
		mode  string
		want  types.Stats
	}{
		{"", "strict", types.Stats{Total: 3, Present: 1, Missing: 1}},
		{"?mode=strict", "strict", types.Stats{Total: 3, Present: 1, Missing: 1}},
		{"?mode=inclusive", "inclusive", types.Stats{Total: 3, Present: 2, Missing: 1}},
	}
	for _, tt := range tests {
		w := do(t, srv, http.MethodGet, "/api/"+sid+"/members/stats"+tt.query, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[StatsResponse](t, w)
		assert.Equal(t, tt.mode, string(got.Mode))
		assert.Equal(t, tt.want, got.Stats)
	}

	w := do(t, srv, http.MethodGet, "/api/"+sid+"/members/stats?mode=loose", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/api/missing-session/members/stats", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	dash := decode[DashboardResponse](t, do(t, srv, http.MethodGet, "/api/sessions/short/"+created.Session.ShortID+"/dashboard", ""))
	assert.Equal(t, types.Stats{Total: 3, Present: 1, Missing: 1}, dash.Stats.Strict)
	assert.Equal(t, types.Stats{Total: 3, Present: 2, Missing: 1}, dash.Stats.Inclusive)
}

// FUNCTIONAL VALIDATION TEST: a body must hold exactly one JSON value
func TestServer_RejectsTrailingData(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"single object", `{"name":"Zed"}`, http.StatusCreated},
		{"trailing whitespace", "{\"name\":\"Zed\"}\n", http.StatusCreated},
		{"trailing garbage", `{"name":"Zed"} garbage`, http.StatusBadRequest},
		{"second object", `{"name":"Zed"}{"name":"Amy"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}
