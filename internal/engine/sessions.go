package engine

import (
	"context"
	"fmt"
	"time"

	"trackline/internal/actionlog"
	"trackline/internal/domain"
	"trackline/internal/repo"
)

// SessionCreateOptions are parameters for scheduling a session.
type SessionCreateOptions struct {
	ClassGroupID    *int64
	MentorID        *int64
	ActivityID      *int64
	TrackID         *int64
	Kind            string
	StartsAt        string
	DurationMinutes int
	Location        string
	Theme           string
	Objectives      string
	Notes           string
	Autonomous      bool
	ActorID         string
}

func (e Engine) CreateSession(ctx context.Context, opts SessionCreateOptions) (domain.Session, error) {
	if opts.Kind == "" {
		opts.Kind = "writing_practice"
	}
	if opts.DurationMinutes == 0 {
		opts.DurationMinutes = 90
	}
	if opts.StartsAt == "" {
		return domain.Session{}, validationErr("starts_at", "is required")
	}
	if _, err := time.Parse(time.RFC3339, opts.StartsAt); err != nil {
		return domain.Session{}, validationErr("starts_at", "must be RFC3339")
	}
	if opts.ClassGroupID == nil && !opts.Autonomous {
		return domain.Session{}, validationErr("class_group_id", "is required for non-autonomous sessions")
	}
	if opts.ClassGroupID != nil {
		if _, err := e.Repo.GetClassGroup(ctx, *opts.ClassGroupID); err != nil {
			return domain.Session{}, err
		}
	}
	if opts.MentorID != nil {
		if _, err := e.Repo.GetMentor(ctx, *opts.MentorID); err != nil {
			return domain.Session{}, err
		}
	}

	state := domain.SessionDraft
	switch {
	case opts.Autonomous:
		state = domain.SessionAutonomous
	case opts.MentorID != nil:
		state = domain.SessionPending
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	ts := e.nowRFC3339()
	s := domain.Session{
		ClassGroupID:    opts.ClassGroupID,
		MentorID:        opts.MentorID,
		ActivityID:      opts.ActivityID,
		TrackID:         opts.TrackID,
		Kind:            opts.Kind,
		StartsAt:        opts.StartsAt,
		DurationMinutes: opts.DurationMinutes,
		State:           state,
		Location:        opts.Location,
		Theme:           opts.Theme,
		Objectives:      opts.Objectives,
		Notes:           opts.Notes,
		Autonomous:      opts.Autonomous,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	id, err := e.Repo.InsertSession(ctx, tx, s)
	if err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	s.ID = id
	if err := e.Log.Append(ctx, tx, "session.create", "session", id, "session scheduled", opts.ActorID,
		actionlog.Detail{"state": string(state), "starts_at": s.StartsAt}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	if s.MentorID != nil && !s.Autonomous {
		e.dispatch(Event{
			Kind:       "session.assigned",
			Title:      "New session assigned",
			Message:    fmt.Sprintf("You have been assigned a session on %s.", s.StartsAt),
			Urgency:    UrgencyMedium,
			MentorID:   *s.MentorID,
			Fields:     map[string]string{"Starts": s.StartsAt, "Kind": s.Kind},
			ToMentor:   true,
			EntityKind: "session",
			EntityID:   s.ID,
		})
	}
	return s, nil
}

// AssignMentor sets or replaces the mentor on a session. An assignment
// onto an unassigned draft moves the session to pending so the mentor
// gets a confirmation request.
func (e Engine) AssignMentor(ctx context.Context, sessionID, mentorID int64, actorID string) (domain.Session, error) {
	mentor, err := e.Repo.GetMentor(ctx, mentorID)
	if err != nil {
		return domain.Session{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	wasUnassigned := s.MentorID == nil
	s.MentorID = &mentorID
	if wasUnassigned && s.State == domain.SessionDraft {
		s.State = domain.SessionPending
	}
	s.Notes = appendNote(s.Notes, fmt.Sprintf("%s mentor set to %s", e.stamp(), mentor.Name))
	s.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := e.Log.Append(ctx, tx, "session.assign", "session", s.ID, "mentor assigned", actorID,
		actionlog.Detail{"mentor_id": mentorID, "state": string(s.State)}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	e.dispatch(Event{
		Kind:       "session.assigned",
		Title:      "Session assigned",
		Message:    fmt.Sprintf("Session on %s is now yours to confirm.", s.StartsAt),
		Urgency:    UrgencyMedium,
		MentorID:   mentorID,
		Fields:     map[string]string{"Starts": s.StartsAt, "Kind": s.Kind, "State": string(s.State)},
		ToMentor:   true,
		EntityKind: "session",
		EntityID:   s.ID,
	})
	return s, nil
}

// ChangeState moves a session to one of the whitelisted states. Confirm
// and reject are mentor decisions and only valid while the session is
// pending; a rejection must carry a reason.
func (e Engine) ChangeState(ctx context.Context, sessionID int64, target domain.SessionState, actorID, reason string) (domain.Session, error) {
	allowed := false
	for _, st := range domain.SessionStateWhitelist {
		if st == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Session{}, &InvalidStateError{State: string(target)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	if target == domain.SessionConfirmed || target == domain.SessionRejected {
		if s.State != domain.SessionPending {
			return domain.Session{}, stateConflict("session %d is %s, only pending sessions can be %s", s.ID, s.State, target)
		}
		if s.MentorID == nil {
			return domain.Session{}, stateConflict("session %d has no assigned mentor", s.ID)
		}
		mentor, err := e.Repo.GetMentor(ctx, *s.MentorID)
		if err != nil {
			return domain.Session{}, err
		}
		if mentor.UserID == "" || mentor.UserID != actorID {
			return domain.Session{}, forbidden("only the assigned mentor can %s session %d", target, s.ID)
		}
		if target == domain.SessionRejected && reason == "" {
			return domain.Session{}, validationErr("reason", "is required to reject a session")
		}
	}

	prev := s.State
	s.State = target
	note := fmt.Sprintf("%s state %s -> %s", e.stamp(), prev, target)
	if reason != "" {
		note += ": " + reason
	}
	s.Notes = appendNote(s.Notes, note)
	s.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	detail := actionlog.Detail{"from": string(prev), "to": string(target)}
	if reason != "" {
		detail["reason"] = reason
	}
	if target == domain.SessionRejected {
		detail["urgency"] = string(UrgencyHigh)
	}
	if err := e.Log.Append(ctx, tx, "session.state", "session", s.ID, "state changed", actorID, detail); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	switch target {
	case domain.SessionConfirmed:
		e.dispatch(Event{
			Kind:       "session.confirmed",
			Title:      "Session confirmed",
			Message:    fmt.Sprintf("Session %d on %s was confirmed by its mentor.", s.ID, s.StartsAt),
			Urgency:    UrgencyLow,
			Fields:     map[string]string{"Starts": s.StartsAt, "Kind": s.Kind},
			ToCoords:   true,
			EntityKind: "session",
			EntityID:   s.ID,
		})
	case domain.SessionRejected:
		e.dispatch(Event{
			Kind:       "session.rejected",
			Title:      "Session rejected",
			Message:    fmt.Sprintf("Session %d on %s was rejected: %s", s.ID, s.StartsAt, reason),
			Urgency:    UrgencyHigh,
			Fields:     map[string]string{"Starts": s.StartsAt, "Reason": reason},
			ToCoords:   true,
			EntityKind: "session",
			EntityID:   s.ID,
		})
	}
	return s, nil
}

// Terminate closes out a confirmed session that already took place,
// recording a rating and a closing note.
func (e Engine) Terminate(ctx context.Context, sessionID int64, rating int, note, actorID string) (domain.Session, error) {
	if rating < 1 || rating > 5 {
		return domain.Session{}, validationErr("rating", "must be between 1 and 5")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.Autonomous {
		return domain.Session{}, stateConflict("autonomous session %d cannot be terminated", s.ID)
	}
	if s.State != domain.SessionConfirmed {
		return domain.Session{}, stateConflict("session %d is %s, only confirmed sessions can be terminated", s.ID, s.State)
	}
	startsAt, err := time.Parse(time.RFC3339, s.StartsAt)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse starts_at: %w", err)
	}
	if startsAt.After(e.now()) {
		return domain.Session{}, stateConflict("session %d has not started yet", s.ID)
	}

	prev := s.State
	s.State = domain.SessionTerminated
	s.Realized = true
	s.Rating = &rating
	s.ClosingNote = note
	s.Notes = appendNote(s.Notes, fmt.Sprintf("%s terminated with rating %d", e.stamp(), rating))
	s.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := e.Log.Append(ctx, tx, "session.terminate", "session", s.ID, "session terminated", actorID,
		actionlog.Detail{"from": string(prev), "rating": rating}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	e.dispatch(Event{
		Kind:       "session.terminated",
		Title:      "Session terminated",
		Message:    fmt.Sprintf("Session %d was closed with rating %d/5.", s.ID, rating),
		Urgency:    UrgencyLow,
		Fields:     map[string]string{"Rating": fmt.Sprintf("%d/5", rating)},
		ToCoords:   true,
		EntityKind: "session",
		EntityID:   s.ID,
	})
	return s, nil
}

// SessionUpdateOptions carries the editable fields of a session. Nil
// pointers leave the stored value untouched. State is deliberately not
// editable here.
type SessionUpdateOptions struct {
	ClassGroupID    *int64
	ActivityID      *int64
	TrackID         *int64
	Kind            *string
	StartsAt        *string
	DurationMinutes *int
	Location        *string
	Theme           *string
	Objectives      *string
	Notes           *string
	Realized        *bool
	ActorID         string
}

func (e Engine) UpdateSession(ctx context.Context, sessionID int64, opts SessionUpdateOptions) (domain.Session, error) {
	if opts.StartsAt != nil {
		if _, err := time.Parse(time.RFC3339, *opts.StartsAt); err != nil {
			return domain.Session{}, validationErr("starts_at", "must be RFC3339")
		}
	}
	if opts.DurationMinutes != nil && *opts.DurationMinutes <= 0 {
		return domain.Session{}, validationErr("duration_minutes", "must be positive")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	rescheduled := false
	if opts.StartsAt != nil && *opts.StartsAt != s.StartsAt {
		rescheduled = s.State == domain.SessionConfirmed || s.State == domain.SessionRejected
		s.StartsAt = *opts.StartsAt
	}
	if opts.ClassGroupID != nil {
		if _, err := e.Repo.GetClassGroup(ctx, *opts.ClassGroupID); err != nil {
			return domain.Session{}, err
		}
		s.ClassGroupID = opts.ClassGroupID
	}
	if opts.ActivityID != nil {
		s.ActivityID = opts.ActivityID
	}
	if opts.TrackID != nil {
		s.TrackID = opts.TrackID
	}
	if opts.Kind != nil {
		s.Kind = *opts.Kind
	}
	if opts.DurationMinutes != nil {
		s.DurationMinutes = *opts.DurationMinutes
	}
	if opts.Location != nil {
		s.Location = *opts.Location
	}
	if opts.Theme != nil {
		s.Theme = *opts.Theme
	}
	if opts.Objectives != nil {
		s.Objectives = *opts.Objectives
	}
	if opts.Notes != nil {
		s.Notes = *opts.Notes
	}
	if opts.Realized != nil {
		s.Realized = *opts.Realized
	}

	if rescheduled {
		prev := s.State
		s.State = domain.SessionPending
		s.Notes = appendNote(s.Notes, fmt.Sprintf("%s rescheduled to %s, was %s, back to pending", e.stamp(), s.StartsAt, prev))
	}
	s.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	detail := actionlog.Detail{}
	if rescheduled {
		detail["rescheduled"] = true
		detail["starts_at"] = s.StartsAt
	}
	if err := e.Log.Append(ctx, tx, "session.update", "session", s.ID, "session updated", opts.ActorID, detail); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}

	if rescheduled && s.MentorID != nil {
		e.dispatch(Event{
			Kind:       "session.rescheduled",
			Title:      "Session rescheduled",
			Message:    fmt.Sprintf("Session %d moved to %s and needs your confirmation again.", s.ID, s.StartsAt),
			Urgency:    UrgencyMedium,
			MentorID:   *s.MentorID,
			Fields:     map[string]string{"Starts": s.StartsAt},
			ToMentor:   true,
			EntityKind: "session",
			EntityID:   s.ID,
		})
	}
	return s, nil
}

func (e Engine) DeleteSession(ctx context.Context, sessionID int64) error {
	return e.Repo.DeleteSession(ctx, sessionID)
}

func (e Engine) GetSession(ctx context.Context, sessionID int64) (domain.Session, error) {
	return e.Repo.GetSession(ctx, sessionID)
}

func (e Engine) ListSessions(ctx context.Context, f repo.SessionFilters) ([]domain.SessionListItem, error) {
	return e.Repo.ListSessions(ctx, f)
}

func (e Engine) ListPendingByMentor(ctx context.Context, mentorID int64) ([]domain.SessionListItem, error) {
	return e.Repo.ListPendingByMentor(ctx, mentorID)
}
