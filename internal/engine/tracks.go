package engine

import (
	"context"
	"fmt"

	"trackline/internal/actionlog"
	"trackline/internal/domain"
	"trackline/internal/repo"
)

// TrackCreateOptions are parameters for registering a track in the
// production pipeline.
type TrackCreateOptions struct {
	Title        string
	ClassGroupID *int64
	Discipline   string
	DemoLink     string
	CreatorID    string
	Role         domain.Role
}

// CreateTrack enters a track into the pipeline. Producers drop finished
// recordings straight into the mixing pool; everyone else starts at the
// recording phase and owns the track.
func (e Engine) CreateTrack(ctx context.Context, opts TrackCreateOptions) (domain.Track, error) {
	if opts.Title == "" {
		return domain.Track{}, validationErr("title", "is required")
	}
	if opts.CreatorID == "" {
		return domain.Track{}, validationErr("creator_id", "is required")
	}
	if !opts.Role.Valid() {
		return domain.Track{}, validationErr("role", fmt.Sprintf("unknown role %q", opts.Role))
	}
	if opts.ClassGroupID != nil {
		if _, err := e.Repo.GetClassGroup(ctx, *opts.ClassGroupID); err != nil {
			return domain.Track{}, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Track{}, err
	}
	defer tx.Rollback()

	ts := e.nowRFC3339()
	t := domain.Track{
		Title:        opts.Title,
		ClassGroupID: opts.ClassGroupID,
		Discipline:   opts.Discipline,
		DemoLink:     opts.DemoLink,
		CreatorID:    opts.CreatorID,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	if opts.Role.IsProducer() {
		t.State = domain.TrackPoolMixing
	} else {
		t.State = domain.TrackRecording
		creator := opts.CreatorID
		t.ResponsibleID = &creator
	}
	id, err := e.Repo.InsertTrack(ctx, tx, t)
	if err != nil {
		return domain.Track{}, fmt.Errorf("insert track: %w", err)
	}
	t.ID = id
	if err := e.Log.Append(ctx, tx, "track.create", "track", id, "track registered", opts.CreatorID,
		actionlog.Detail{"state": string(t.State), "title": t.Title}); err != nil {
		return domain.Track{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Track{}, err
	}
	return t, nil
}

// AdvancePhase moves a track to its next pipeline phase. The caller must
// be the current responsible party. Releases into a pool clear the
// responsible party; role stamps are written the first time a phase
// completes and never overwritten.
func (e Engine) AdvancePhase(ctx context.Context, trackID int64, callerID, feedback string) (domain.Track, error) {
	if callerID == "" {
		return domain.Track{}, validationErr("caller", "is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Track{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTrackTx(ctx, tx, trackID)
	if err != nil {
		return domain.Track{}, err
	}
	if t.ResponsibleID == nil {
		return domain.Track{}, &NotResponsibleError{TrackID: t.ID}
	}
	if *t.ResponsibleID != callerID {
		return domain.Track{}, &NotResponsibleError{TrackID: t.ID, Responsible: *t.ResponsibleID}
	}

	from := t.State
	next := t
	switch from {
	case domain.TrackRecording:
		next.State = domain.TrackEditing
	case domain.TrackEditing:
		next.State = domain.TrackPoolMixing
		next.ResponsibleID = nil
	case domain.TrackMixingWIP:
		next.State = domain.TrackPoolFeedback
		next.ResponsibleID = nil
		if next.MixedBy == nil {
			next.MixedBy = &callerID
		}
	case domain.TrackFeedbackWIP:
		next.State = domain.TrackPoolFinalization
		next.ResponsibleID = nil
		if next.ReviewedBy == nil {
			next.ReviewedBy = &callerID
		}
		if feedback != "" {
			next.Feedback = feedback
		}
	case domain.TrackFinalizationWIP:
		next.State = domain.TrackDone
		next.ResponsibleID = nil
		if next.FinalizedBy == nil {
			next.FinalizedBy = &callerID
		}
	default:
		return domain.Track{}, &InvalidTransitionError{From: from}
	}
	next.UpdatedAt = e.nowRFC3339()

	applied, err := e.Repo.AdvanceTrack(ctx, tx, next, from, callerID)
	if err != nil {
		return domain.Track{}, fmt.Errorf("advance track: %w", err)
	}
	if !applied {
		return domain.Track{}, stateConflict("track %d changed underneath the advance, retry", t.ID)
	}
	detail := actionlog.Detail{"from": string(from), "to": string(next.State)}
	if feedback != "" {
		detail["feedback"] = feedback
	}
	if err := e.Log.Append(ctx, tx, "track.advance", "track", t.ID, "phase advanced", callerID, detail); err != nil {
		return domain.Track{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Track{}, err
	}

	if next.State.IsPool() || next.State == domain.TrackDone {
		e.dispatch(Event{
			Kind:       "track.advanced",
			Title:      fmt.Sprintf("Track %q moved to %s", next.Title, next.State),
			Message:    fmt.Sprintf("%s finished the %s phase.", callerID, from),
			Urgency:    UrgencyLow,
			Fields:     map[string]string{"Track": next.Title, "Phase": string(next.State)},
			ToCoords:   true,
			EntityKind: "track",
			EntityID:   next.ID,
		})
	}
	return next, nil
}

// ClaimTask takes ownership of a pooled track. Exactly one of any number
// of concurrent claimers wins; losers get AlreadyClaimedError.
func (e Engine) ClaimTask(ctx context.Context, trackID int64, callerID string) (domain.Track, error) {
	if callerID == "" {
		return domain.Track{}, validationErr("caller", "is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Track{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTrackTx(ctx, tx, trackID)
	if err != nil {
		return domain.Track{}, err
	}
	wip, ok := t.State.Claimed()
	if !ok {
		return domain.Track{}, &NotAPoolStateError{TrackID: t.ID, State: t.State}
	}

	updatedAt := e.nowRFC3339()
	claimed, err := e.Repo.ClaimTrack(ctx, tx, t.ID, t.State, wip, callerID, updatedAt)
	if err != nil {
		return domain.Track{}, fmt.Errorf("claim track: %w", err)
	}
	if !claimed {
		// the conditional update lost; re-read to name the reason
		cur, err := e.Repo.GetTrackTx(ctx, tx, trackID)
		if err != nil {
			return domain.Track{}, err
		}
		if cur.ResponsibleID != nil {
			return domain.Track{}, &AlreadyClaimedError{TrackID: cur.ID}
		}
		return domain.Track{}, &NotAPoolStateError{TrackID: cur.ID, State: cur.State}
	}
	if err := e.Log.Append(ctx, tx, "track.claim", "track", t.ID, "task claimed", callerID,
		actionlog.Detail{"from": string(t.State), "to": string(wip)}); err != nil {
		return domain.Track{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Track{}, err
	}

	t.State = wip
	t.ResponsibleID = &callerID
	t.UpdatedAt = updatedAt
	return t, nil
}

// ArchiveTrack hides a finished track from the active listings.
func (e Engine) ArchiveTrack(ctx context.Context, trackID int64, actorID string) (domain.Track, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Track{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTrackTx(ctx, tx, trackID)
	if err != nil {
		return domain.Track{}, err
	}
	if t.Archived {
		return domain.Track{}, stateConflict("track %d is already archived", t.ID)
	}
	if t.State != domain.TrackDone {
		return domain.Track{}, stateConflict("track %d is %s, only finished tracks can be archived", t.ID, t.State)
	}
	t.Archived = true
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.SetTrackArchived(ctx, tx, t.ID, true, t.UpdatedAt); err != nil {
		return domain.Track{}, fmt.Errorf("archive track: %w", err)
	}
	if err := e.Log.Append(ctx, tx, "track.archive", "track", t.ID, "track archived", actorID, nil); err != nil {
		return domain.Track{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Track{}, err
	}
	return t, nil
}

// UnarchiveTrack restores an archived track to the active listings.
func (e Engine) UnarchiveTrack(ctx context.Context, trackID int64, actorID string) (domain.Track, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Track{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTrackTx(ctx, tx, trackID)
	if err != nil {
		return domain.Track{}, err
	}
	if !t.Archived {
		return domain.Track{}, stateConflict("track %d is not archived", t.ID)
	}
	t.Archived = false
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.SetTrackArchived(ctx, tx, t.ID, false, t.UpdatedAt); err != nil {
		return domain.Track{}, fmt.Errorf("unarchive track: %w", err)
	}
	if err := e.Log.Append(ctx, tx, "track.unarchive", "track", t.ID, "track restored", actorID, nil); err != nil {
		return domain.Track{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Track{}, err
	}
	return t, nil
}

func (e Engine) SetDemoLink(ctx context.Context, trackID int64, link string) (domain.Track, error) {
	if link == "" {
		return domain.Track{}, validationErr("demo_link", "is required")
	}
	if err := e.Repo.SetTrackDemoLink(ctx, trackID, link, e.nowRFC3339()); err != nil {
		return domain.Track{}, err
	}
	return e.Repo.GetTrack(ctx, trackID)
}

func (e Engine) GetTrack(ctx context.Context, trackID int64) (domain.Track, error) {
	return e.Repo.GetTrack(ctx, trackID)
}

func (e Engine) ListTracks(ctx context.Context, f repo.TrackFilters) ([]domain.TrackListItem, error) {
	return e.Repo.ListTracks(ctx, f)
}

func (e Engine) PipelineCounts(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountTracksByState(ctx)
}
