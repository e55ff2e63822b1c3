package engine

import (
	"context"
	"database/sql"
	"time"

	"trackline/internal/actionlog"
	"trackline/internal/repo"
)

// Urgency grades exception notifications for the chat channel.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Event is what the engine hands to the dispatcher after a transition
// committed. Everything in it is already durable; delivery is best
// effort.
type Event struct {
	Kind       string
	Title      string
	Message    string
	Link       string
	Urgency    Urgency
	MentorID   int64
	Fields     map[string]string
	ToMentor   bool
	ToCoords   bool
	EntityKind string
	EntityID   int64
}

// Notifier receives committed transition events. Implementations must
// never let a delivery failure surface back to the engine.
type Notifier interface {
	Dispatch(ctx context.Context, ev Event)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Log    actionlog.Writer
	Notify Notifier
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:   db,
		Repo: repo.Repo{DB: db},
		Log:  actionlog.Writer{DB: db},
		Now:  time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// stamp renders the audit-note prefix for an appended note line.
func (e Engine) stamp() string {
	return e.now().UTC().Format("[2006-01-02 15:04]")
}

// appendNote joins an audit line onto existing free-text notes.
func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

// dispatch fires the notifier on a detached goroutine so a slow or
// failing delivery cannot hold up the caller. The transition is already
// committed by the time this runs.
func (e Engine) dispatch(ev Event) {
	if e.Notify == nil {
		return
	}
	go e.Notify.Dispatch(context.Background(), ev)
}
