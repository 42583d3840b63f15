// Package api is the REST surface of the attendance service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"busbuddy/internal/attendance"
	"busbuddy/internal/export"
	"busbuddy/pkg/interfaces"
	"busbuddy/pkg/types"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// HealthChecker reports whether storage is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options tunes a Server
type Options struct {
	// PublicBaseURL prefixes the check-in and check-out links; blank omits them
	PublicBaseURL string

	// Limiter throttles writes per remote address; nil disables throttling
	Limiter *RateLimiter
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	sessions      interfaces.SessionManager
	health        HealthChecker
	limiter       *RateLimiter
	publicBaseURL string
	router        *http.ServeMux
	handler       http.Handler
}

// NewServer wires routes and middleware around the session service
func NewServer(sessions interfaces.SessionManager, health HealthChecker, opts Options) *Server {
	s := &Server{
		sessions:      sessions,
		health:        health,
		limiter:       opts.Limiter,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		router:        http.NewServeMux(),
	}

	s.setupRoutes()
	s.handler = s.loggingMiddleware(s.router)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware.
// Paths are split by hand because member routes hang off a bare session id under /api/.
func (s *Server) setupRoutes() {
	wrap := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.rateLimitMiddleware(s.jsonMiddleware(h)))
	}

	s.router.Handle("/api/sessions", wrap(s.handleSessions))
	s.router.Handle("/api/sessions/", wrap(s.handleSessionPath))
	s.router.Handle("/api/", wrap(s.handleMemberPath))
	s.router.Handle("/health", wrap(s.healthCheck))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization

// CreateSessionRequest is the body of POST /api/sessions
type CreateSessionRequest struct {
	Name        string `json:"name"`
	LeaderName  string `json:"leaderName"`
	LeaderPhone string `json:"leaderPhone"`
	DurationMs  *int64 `json:"durationMs"`
}

// JoinRequest is the body of POST /api/:sessionId/members
type JoinRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

// UpdateStatusRequest is the body of PATCH /api/:sessionId/members/:memberId
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// SessionView is a session plus the shareable links leaders hand out
type SessionView struct {
	*types.Session
	CheckInURL  string `json:"check_in_url,omitempty"`
	CheckOutURL string `json:"check_out_url,omitempty"`
}

// CreateSessionResponse is returned with 201 from POST /api/sessions
type CreateSessionResponse struct {
	Session      SessionView   `json:"session"`
	LeaderMember *types.Member `json:"leaderMember,omitempty"`
}

// DashboardResponse is the polling read for a leader dashboard
type DashboardResponse struct {
	Session SessionView        `json:"session"`
	Members []*types.Member    `json:"members"`
	Stats   attendance.Summary `json:"stats"`
	Roster  attendance.Roster  `json:"roster"`
}

// StatsResponse is the attendance count under one mode
type StatsResponse struct {
	Mode attendance.Mode `json:"mode"`
	types.Stats
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

func (s *Server) view(session *types.Session) SessionView {
	v := SessionView{Session: session}
	if s.publicBaseURL != "" {
		v.CheckInURL = fmt.Sprintf("%s/join/%s", s.publicBaseURL, session.ShortID)
		v.CheckOutURL = fmt.Sprintf("%s/checkout/%s", s.publicBaseURL, session.ShortID)
	}
	return v
}

// pathSegments splits what follows prefix into non-empty segments
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// FUNCTIONAL DISCOVERY: Handle sessions collection endpoint (POST /api/sessions)
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.createSession(w, r)
}

// handleSessionPath serves /api/sessions/:id and /api/sessions/short/:code[/dashboard]
func (s *Server) handleSessionPath(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path, "/api/sessions/")

	switch {
	case len(segs) == 1:
		switch r.Method {
		case http.MethodGet:
			s.getSession(w, r, segs[0])
		case http.MethodDelete:
			s.deleteSession(w, r, segs[0])
		default:
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(segs) == 2 && segs[0] == "short":
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getSessionByShortCode(w, r, segs[1])

	case len(segs) == 3 && segs[0] == "short" && segs[2] == "dashboard":
		if r.Method != http.MethodGet {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.getDashboard(w, r, segs[1])

	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// handleMemberPath serves /api/:sessionId/members[/export|/stats|/:memberId]
func (s *Server) handleMemberPath(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path, "/api/")
	if len(segs) < 2 || segs[1] != "members" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	sessionID := segs[0]

	switch {
	case len(segs) == 2:
		switch r.Method {
		case http.MethodGet:
			s.listMembers(w, r, sessionID)
		case http.MethodPost:
			s.joinSession(w, r, sessionID)
		default:
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(segs) == 3 && segs[2] == "export" && r.Method == http.MethodGet:
		s.exportMembers(w, r, sessionID)

	case len(segs) == 3 && segs[2] == "stats" && r.Method == http.MethodGet:
		s.memberStats(w, r, sessionID)

	case len(segs) == 3:
		if r.Method != http.MethodPatch {
			s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.updateMemberStatus(w, r, sessionID, segs[2])

	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// decodeJSON reads at most one JSON value; an empty body leaves dst untouched
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body", types.ErrValidation)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", types.ErrValidation)
	}
	return nil
}

// durationFromMillis treats a missing or zero value as "use the default"
func durationFromMillis(ms *int64) (time.Duration, error) {
	if ms == nil {
		return 0, nil
	}
	if *ms > math.MaxInt64/int64(time.Millisecond) {
		return 0, types.ErrDurationTooLong
	}
	if *ms < 0 {
		return 0, types.ErrInvalidDuration
	}
	return time.Duration(*ms) * time.Millisecond, nil
}

// FUNCTIONAL DISCOVERY: POST /api/sessions - create a session, optionally with its leader
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	duration, err := durationFromMillis(req.DurationMs)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	result, err := s.sessions.CreateSession(r.Context(), interfaces.CreateSessionParams{
		Name:        req.Name,
		LeaderName:  req.LeaderName,
		LeaderPhone: req.LeaderPhone,
		Duration:    duration,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, CreateSessionResponse{
		Session:      s.view(result.Session),
		LeaderMember: result.LeaderMember,
	})
}

// GET /api/sessions/:sessionId
func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(session))
}

// GET /api/sessions/short/:shortId
func (s *Server) getSessionByShortCode(w http.ResponseWriter, r *http.Request, shortID string) {
	session, err := s.sessions.ResolveShortCode(r.Context(), shortID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(session))
}

// DELETE /api/sessions/:sessionId
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/sessions/short/:shortId/dashboard
func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request, shortID string) {
	snap, err := s.sessions.GetSessionWithMembers(r.Context(), shortID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, DashboardResponse{
		Session: s.view(snap.Session),
		Members: snap.Members,
		Stats: attendance.Summary{
			Inclusive: s.sessions.Stats(snap.Members, attendance.Inclusive),
			Strict:    s.sessions.Stats(snap.Members, attendance.Strict),
		},
		Roster: attendance.Split(snap.Members),
	})
}

// GET /api/:sessionId/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request, sessionID string) {
	members, err := s.sessions.ListMembers(r.Context(), sessionID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

// GET /api/:sessionId/members/stats?mode=strict|inclusive
func (s *Server) memberStats(w http.ResponseWriter, r *http.Request, sessionID string) {
	mode := attendance.Strict
	if q := r.URL.Query().Get("mode"); q != "" {
		parsed, err := attendance.ParseMode(q)
		if err != nil {
			s.sendServiceError(w, r, err)
			return
		}
		mode = parsed
	}

	members, err := s.sessions.ListMembers(r.Context(), sessionID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{Mode: mode, Stats: s.sessions.Stats(members, mode)})
}

// POST /api/:sessionId/members
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req JoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	member, err := s.sessions.JoinSession(r.Context(), sessionID, req.Name, req.PhoneNumber)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, member)
}

// PATCH /api/:sessionId/members/:memberId
func (s *Server) updateMemberStatus(w http.ResponseWriter, r *http.Request, sessionID, memberID string) {
	var req UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	status, err := types.ParseStatus(req.Status)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	member, err := s.sessions.UpdateMemberStatus(r.Context(), sessionID, memberID, status)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, member)
}

// GET /api/:sessionId/members/export?format=csv|xlsx
func (s *Server) exportMembers(w http.ResponseWriter, r *http.Request, sessionID string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	session, err := s.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	members, err := s.sessions.ListMembers(r.Context(), sessionID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename(session)))
	if err := export.Write(w, format, members); err != nil {
		// headers are gone; all that is left is to log
		logFailure(r, "Roster export failed", err)
	}
}

// FUNCTIONAL DISCOVERY: GET /health - storage reachability check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{Status: "OK", Timestamp: time.Now().UTC(), Database: "ok"}
	code := http.StatusOK

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			logFailure(r, "Storage health check failed", err)
			response.Status = "UNAVAILABLE"
			response.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
