package engine_test

import (
	"context"
	"testing"
	"time"

	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/migrate"
)

// eventRecorder collects dispatched events. Dispatch runs on a detached
// goroutine, so tests read from the channel with a deadline.
type eventRecorder struct {
	events chan engine.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan engine.Event, 16)}
}

func (r *eventRecorder) Dispatch(ctx context.Context, ev engine.Event) {
	r.events <- ev
}

func (r *eventRecorder) wait(t *testing.T) engine.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event dispatched")
		return engine.Event{}
	}
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Events  *eventRecorder
	GroupID int64
	Mentor1 int64
	Mentor2 int64
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := newEventRecorder()
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC) }
	eng.Log.Now = eng.Now
	eng.Notify = rec
	ctx := context.Background()

	instID, err := eng.Repo.InsertInstitution(ctx, domain.Institution{Name: "Escola Central", Acronym: "EC"})
	if err != nil {
		t.Fatalf("seed institution: %v", err)
	}
	groupID, err := eng.Repo.InsertClassGroup(ctx, domain.ClassGroup{Name: "Turma A", InstitutionID: instID})
	if err != nil {
		t.Fatalf("seed class group: %v", err)
	}
	m1, err := eng.Repo.InsertMentor(ctx, domain.Mentor{Name: "Ana", Email: "ana@example.org", UserID: "user-ana"})
	if err != nil {
		t.Fatalf("seed mentor: %v", err)
	}
	m2, err := eng.Repo.InsertMentor(ctx, domain.Mentor{Name: "Bruno", Email: "bruno@example.org", UserID: "user-bruno"})
	if err != nil {
		t.Fatalf("seed mentor: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Events: rec, GroupID: groupID, Mentor1: m1, Mentor2: m2}
}

func ptr[T any](v T) *T { return &v }
