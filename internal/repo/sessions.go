package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

const sessionColumns = `id,class_group_id,mentor_id,activity_id,track_id,kind,starts_at,duration_minutes,state,location,theme,objectives,notes,autonomous,realized,rating,closing_note,created_at,updated_at`

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO sessions(class_group_id,mentor_id,activity_id,track_id,kind,starts_at,duration_minutes,state,location,theme,objectives,notes,autonomous,realized,rating,closing_note,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullableInt64Ptr(s.ClassGroupID), nullableInt64Ptr(s.MentorID), nullableInt64Ptr(s.ActivityID), nullableInt64Ptr(s.TrackID),
		s.Kind, s.StartsAt, s.DurationMinutes, string(s.State),
		nullable(s.Location), nullable(s.Theme), nullable(s.Objectives), nullable(s.Notes),
		s.Autonomous, s.Realized, nullableIntPtr(s.Rating), nullable(s.ClosingNote),
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET class_group_id=?, mentor_id=?, activity_id=?, track_id=?, kind=?, starts_at=?, duration_minutes=?, state=?, location=?, theme=?, objectives=?, notes=?, autonomous=?, realized=?, rating=?, closing_note=?, updated_at=? WHERE id=?`,
		nullableInt64Ptr(s.ClassGroupID), nullableInt64Ptr(s.MentorID), nullableInt64Ptr(s.ActivityID), nullableInt64Ptr(s.TrackID),
		s.Kind, s.StartsAt, s.DurationMinutes, string(s.State),
		nullable(s.Location), nullable(s.Theme), nullable(s.Objectives), nullable(s.Notes),
		s.Autonomous, s.Realized, nullableIntPtr(s.Rating), nullable(s.ClosingNote),
		s.UpdatedAt, s.ID)
	return err
}

func scanSession(scan func(dest ...any) error) (domain.Session, error) {
	var s domain.Session
	var classGroupID, mentorID, activityID, trackID sql.NullInt64
	var location, theme, objectives, notes, closingNote sql.NullString
	var rating sql.NullInt64
	var state string
	err := scan(&s.ID, &classGroupID, &mentorID, &activityID, &trackID, &s.Kind, &s.StartsAt, &s.DurationMinutes, &state,
		&location, &theme, &objectives, &notes, &s.Autonomous, &s.Realized, &rating, &closingNote, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.State = domain.SessionState(state)
	if classGroupID.Valid {
		s.ClassGroupID = &classGroupID.Int64
	}
	if mentorID.Valid {
		s.MentorID = &mentorID.Int64
	}
	if activityID.Valid {
		s.ActivityID = &activityID.Int64
	}
	if trackID.Valid {
		s.TrackID = &trackID.Int64
	}
	if location.Valid {
		s.Location = location.String
	}
	if theme.Valid {
		s.Theme = theme.String
	}
	if objectives.Valid {
		s.Objectives = objectives.String
	}
	if notes.Valid {
		s.Notes = notes.String
	}
	if rating.Valid {
		v := int(rating.Int64)
		s.Rating = &v
	}
	if closingNote.Valid {
		s.ClosingNote = closingNote.String
	}
	return s, nil
}

func (r Repo) GetSession(ctx context.Context, id int64) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	return scanSession(row.Scan)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id)
	return scanSession(row.Scan)
}

func (r Repo) DeleteSession(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type SessionFilters struct {
	State    domain.SessionState
	MentorID int64
	Limit    int
}

const sessionListQuery = `SELECT s.id,s.class_group_id,s.mentor_id,s.activity_id,s.track_id,s.kind,s.starts_at,s.duration_minutes,s.state,s.location,s.theme,s.objectives,s.notes,s.autonomous,s.realized,s.rating,s.closing_note,s.created_at,s.updated_at,
COALESCE(g.name,''), COALESCE(m.name,''), COALESCE(i.name,'')
FROM sessions s
LEFT JOIN class_groups g ON s.class_group_id = g.id
LEFT JOIN mentors m ON s.mentor_id = m.id
LEFT JOIN institutions i ON g.institution_id = i.id`

func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.SessionListItem, error) {
	query := sessionListQuery
	var clauses []string
	var args []any
	if f.State != "" {
		clauses = append(clauses, "s.state=?")
		args = append(args, string(f.State))
	}
	if f.MentorID != 0 {
		clauses = append(clauses, "s.mentor_id=?")
		args = append(args, f.MentorID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + clauses[0]
		for _, c := range clauses[1:] {
			query += " AND " + c
		}
	}
	query += " ORDER BY s.starts_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SessionListItem
	for rows.Next() {
		var item domain.SessionListItem
		var classGroupID, mentorID, activityID, trackID sql.NullInt64
		var location, theme, objectives, notes, closingNote sql.NullString
		var rating sql.NullInt64
		var state string
		if err := rows.Scan(&item.ID, &classGroupID, &mentorID, &activityID, &trackID, &item.Kind, &item.StartsAt, &item.DurationMinutes, &state,
			&location, &theme, &objectives, &notes, &item.Autonomous, &item.Realized, &rating, &closingNote, &item.CreatedAt, &item.UpdatedAt,
			&item.ClassGroupName, &item.MentorName, &item.InstitutionName); err != nil {
			return nil, err
		}
		item.State = domain.SessionState(state)
		if classGroupID.Valid {
			item.ClassGroupID = &classGroupID.Int64
		}
		if mentorID.Valid {
			item.MentorID = &mentorID.Int64
		}
		if activityID.Valid {
			item.ActivityID = &activityID.Int64
		}
		if trackID.Valid {
			item.TrackID = &trackID.Int64
		}
		if location.Valid {
			item.Location = location.String
		}
		if theme.Valid {
			item.Theme = theme.String
		}
		if objectives.Valid {
			item.Objectives = objectives.String
		}
		if notes.Valid {
			item.Notes = notes.String
		}
		if rating.Valid {
			v := int(rating.Int64)
			item.Rating = &v
		}
		if closingNote.Valid {
			item.ClosingNote = closingNote.String
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// ListPendingByMentor returns the sessions a mentor still has to confirm
// or reject, soonest first.
func (r Repo) ListPendingByMentor(ctx context.Context, mentorID int64) ([]domain.SessionListItem, error) {
	items, err := r.ListSessions(ctx, SessionFilters{State: domain.SessionPending, MentorID: mentorID})
	if err != nil {
		return nil, err
	}
	// listings come back newest first; pending confirmations read better soonest first
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
