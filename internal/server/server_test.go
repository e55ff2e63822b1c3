package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL     string
	Engine  engine.Engine
	client  *http.Client
	close   func()
	GroupID int64
	Mentor1 int64
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	e.Now = func() time.Time { return time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC) }
	e.Log.Now = e.Now
	ctx := context.Background()
	instID, err := e.Repo.InsertInstitution(ctx, domain.Institution{Name: "Escola Central"})
	if err != nil {
		t.Fatal(err)
	}
	groupID, err := e.Repo.InsertClassGroup(ctx, domain.ClassGroup{Name: "Turma A", InstitutionID: instID})
	if err != nil {
		t.Fatal(err)
	}
	mentorID, err := e.Repo.InsertMentor(ctx, domain.Mentor{Name: "Ana", Email: "ana@example.org", UserID: "user-ana"})
	if err != nil {
		t.Fatal(err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
		GroupID: groupID,
		Mentor1: mentorID,
	}
	t.Cleanup(ts.Close)
	return ts
}

func signToken(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("parse error envelope %s: %v", data, err)
	}
	return envelope.Error.Code
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestServer(t)
	res, _ := s.doJSON(t, http.MethodGet, "/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d, want 200", res.StatusCode)
	}
}

func TestAuthRejectionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	mw := newAuthMiddleware("/v1", AuthConfig{JWTSecret: testSecret, Logger: logger})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("request with bad token reached the handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(buf.String(), "rejected token") {
		t.Fatalf("rejection not logged: %q", buf.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	res, _ := s.doJSON(t, http.MethodGet, "/v1/sessions", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", res.StatusCode)
	}
	res, _ = s.doJSON(t, http.MethodGet, "/v1/sessions", nil, "garbage")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", res.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	coord := signToken(t, "user-coord", domain.RoleCoordinator)
	ana := signToken(t, "user-ana", domain.RoleMentor)

	res, data := s.doJSON(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{
		ClassGroupID: &s.GroupID,
		MentorID:     &s.Mentor1,
		StartsAt:     "2024-03-01T10:00:00Z",
	}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, data)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if session.State != domain.SessionPending {
		t.Fatalf("state = %s, want pending", session.State)
	}
	base := "/v1/sessions/" + itoa(session.ID)

	// confirm by someone other than the assigned mentor
	res, data = s.doJSON(t, http.MethodPost, base+"/state", ChangeStateRequest{State: "confirmed"}, coord)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("confirm by coord = %d %s", res.StatusCode, data)
	}

	// whitelist violation
	res, data = s.doJSON(t, http.MethodPost, base+"/state", ChangeStateRequest{State: "terminated"}, ana)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_state" {
		t.Fatalf("whitelist violation = %d %s", res.StatusCode, data)
	}

	res, data = s.doJSON(t, http.MethodPost, base+"/state", ChangeStateRequest{State: "confirmed"}, ana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm = %d: %s", res.StatusCode, data)
	}

	res, data = s.doJSON(t, http.MethodPost, base+"/terminate", TerminateSessionRequest{Rating: 5, Note: "done"}, ana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("terminate = %d: %s", res.StatusCode, data)
	}

	res, _ = s.doJSON(t, http.MethodDelete, base, nil, coord)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", res.StatusCode)
	}
	res, data = s.doJSON(t, http.MethodGet, base, nil, coord)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("get after delete = %d %s", res.StatusCode, data)
	}
}

func TestUpdateRejectsStateKey(t *testing.T) {
	s := newTestServer(t)
	coord := signToken(t, "user-coord", domain.RoleCoordinator)
	res, data := s.doJSON(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{
		ClassGroupID: &s.GroupID,
		StartsAt:     "2024-03-20T10:00:00Z",
	}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, data)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatal(err)
	}

	res, data = s.doJSON(t, http.MethodPatch, "/v1/sessions/"+itoa(session.ID),
		map[string]any{"state": "completed"}, coord)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("state through update = %d %s, want 400", res.StatusCode, data)
	}
}

func TestTrackPipelineOverHTTP(t *testing.T) {
	s := newTestServer(t)
	producer := signToken(t, "user-prod", domain.RoleProducer)
	mixer := signToken(t, "user-mixer", domain.RoleProducer)

	res, data := s.doJSON(t, http.MethodPost, "/v1/tracks", CreateTrackRequest{Title: "Faixa 1"}, producer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, data)
	}
	var track domain.Track
	if err := json.Unmarshal(data, &track); err != nil {
		t.Fatal(err)
	}
	if track.State != domain.TrackPoolMixing {
		t.Fatalf("producer track state = %s, want pool_mixing", track.State)
	}
	base := "/v1/tracks/" + itoa(track.ID)

	// advancing a pooled track is an ownership failure
	res, data = s.doJSON(t, http.MethodPost, base+"/advance", AdvanceTrackRequest{}, mixer)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "not_responsible" {
		t.Fatalf("advance pooled = %d %s", res.StatusCode, data)
	}

	res, data = s.doJSON(t, http.MethodPost, base+"/claim", nil, mixer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim = %d: %s", res.StatusCode, data)
	}

	// second claim conflicts
	res, data = s.doJSON(t, http.MethodPost, base+"/claim", nil, producer)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "not_a_pool_state" {
		t.Fatalf("second claim = %d %s", res.StatusCode, data)
	}

	res, data = s.doJSON(t, http.MethodPost, base+"/advance", AdvanceTrackRequest{}, mixer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance = %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &track); err != nil {
		t.Fatal(err)
	}
	if track.State != domain.TrackPoolFeedback || track.MixedBy == nil || *track.MixedBy != "user-mixer" {
		t.Fatalf("after mix: %+v", track)
	}

	// archive before done conflicts
	res, data = s.doJSON(t, http.MethodPost, base+"/archive", nil, producer)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "state_conflict" {
		t.Fatalf("early archive = %d %s", res.StatusCode, data)
	}
}

func TestMentorEntersAtRecording(t *testing.T) {
	s := newTestServer(t)
	mentor := signToken(t, "user-ana", domain.RoleMentor)
	res, data := s.doJSON(t, http.MethodPost, "/v1/tracks", CreateTrackRequest{Title: "Faixa 2", ClassGroupID: &s.GroupID}, mentor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, data)
	}
	var track domain.Track
	if err := json.Unmarshal(data, &track); err != nil {
		t.Fatal(err)
	}
	if track.State != domain.TrackRecording || track.ResponsibleID == nil || *track.ResponsibleID != "user-ana" {
		t.Fatalf("mentor track: %+v", track)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	s := newTestServer(t)
	ana := signToken(t, "user-ana", domain.RoleMentor)
	ctx := context.Background()
	id, err := s.Engine.Repo.InsertNotification(ctx, domain.Notification{
		UserID: "user-ana", Kind: "session.assigned", Title: "t", Message: "m",
		CreatedAt: "2024-03-10T14:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}

	res, data := s.doJSON(t, http.MethodGet, "/v1/notifications?unread=true", nil, ana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list = %d: %s", res.StatusCode, data)
	}
	var items []domain.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("items = %+v", items)
	}

	res, _ = s.doJSON(t, http.MethodPost, "/v1/notifications/"+itoa(id)+"/read", nil, ana)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("read = %d", res.StatusCode)
	}

	res, data = s.doJSON(t, http.MethodGet, "/v1/notifications/unread-count", nil, ana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("count = %d", res.StatusCode)
	}
	var counts map[string]int
	if err := json.Unmarshal(data, &counts); err != nil {
		t.Fatal(err)
	}
	if counts["unread"] != 0 {
		t.Fatalf("unread = %d, want 0", counts["unread"])
	}

	res, _ = s.doJSON(t, http.MethodDelete, "/v1/notifications/"+itoa(id), nil, ana)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", res.StatusCode)
	}
}

func TestActionLogEndpoint(t *testing.T) {
	s := newTestServer(t)
	coord := signToken(t, "user-coord", domain.RoleCoordinator)
	res, data := s.doJSON(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{
		ClassGroupID: &s.GroupID,
		StartsAt:     "2024-03-20T10:00:00Z",
	}, coord)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", res.StatusCode, data)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatal(err)
	}

	res, data = s.doJSON(t, http.MethodGet, "/v1/actions?entity_kind=session&entity_id="+itoa(session.ID), nil, coord)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("actions = %d: %s", res.StatusCode, data)
	}
	var entries []domain.ActionEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "session.create" {
		t.Fatalf("entries = %+v", entries)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
