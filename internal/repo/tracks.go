package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

const trackColumns = `id,title,class_group_id,discipline,state,archived,responsible_id,creator_id,feedback,demo_link,mixed_by,reviewed_by,finalized_by,created_at,updated_at`

func (r Repo) InsertTrack(ctx context.Context, tx *sql.Tx, t domain.Track) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tracks(title,class_group_id,discipline,state,archived,responsible_id,creator_id,feedback,demo_link,mixed_by,reviewed_by,finalized_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Title, nullableInt64Ptr(t.ClassGroupID), nullable(t.Discipline), string(t.State), t.Archived,
		nullableStringPtr(t.ResponsibleID), t.CreatorID, nullable(t.Feedback), nullable(t.DemoLink),
		nullableStringPtr(t.MixedBy), nullableStringPtr(t.ReviewedBy), nullableStringPtr(t.FinalizedBy),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanTrack(scan func(dest ...any) error) (domain.Track, error) {
	var t domain.Track
	var classGroupID sql.NullInt64
	var discipline, responsibleID, feedback, demoLink, mixedBy, reviewedBy, finalizedBy sql.NullString
	var state string
	err := scan(&t.ID, &t.Title, &classGroupID, &discipline, &state, &t.Archived, &responsibleID, &t.CreatorID,
		&feedback, &demoLink, &mixedBy, &reviewedBy, &finalizedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.State = domain.TrackState(state)
	if classGroupID.Valid {
		t.ClassGroupID = &classGroupID.Int64
	}
	if discipline.Valid {
		t.Discipline = discipline.String
	}
	if responsibleID.Valid {
		t.ResponsibleID = &responsibleID.String
	}
	if feedback.Valid {
		t.Feedback = feedback.String
	}
	if demoLink.Valid {
		t.DemoLink = demoLink.String
	}
	if mixedBy.Valid {
		t.MixedBy = &mixedBy.String
	}
	if reviewedBy.Valid {
		t.ReviewedBy = &reviewedBy.String
	}
	if finalizedBy.Valid {
		t.FinalizedBy = &finalizedBy.String
	}
	return t, nil
}

func (r Repo) GetTrack(ctx context.Context, id int64) (domain.Track, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id=?`, id)
	return scanTrack(row.Scan)
}

func (r Repo) GetTrackTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Track, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id=?`, id)
	return scanTrack(row.Scan)
}

// AdvanceTrack applies a phase transition conditionally on the state and
// responsible party the caller observed. Zero rows affected means a
// concurrent writer got there first.
func (r Repo) AdvanceTrack(ctx context.Context, tx *sql.Tx, t domain.Track, fromState domain.TrackState, fromResponsible string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tracks SET state=?, responsible_id=?, feedback=?, mixed_by=?, reviewed_by=?, finalized_by=?, updated_at=?
WHERE id=? AND state=? AND responsible_id=?`,
		string(t.State), nullableStringPtr(t.ResponsibleID), nullable(t.Feedback),
		nullableStringPtr(t.MixedBy), nullableStringPtr(t.ReviewedBy), nullableStringPtr(t.FinalizedBy),
		t.UpdatedAt, t.ID, string(fromState), fromResponsible)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClaimTrack atomically takes ownership of a pooled track. The WHERE
// clause loses against any concurrent claim that landed first.
func (r Repo) ClaimTrack(ctx context.Context, tx *sql.Tx, id int64, fromState, toState domain.TrackState, userID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tracks SET state=?, responsible_id=?, updated_at=? WHERE id=? AND state=? AND responsible_id IS NULL`,
		string(toState), userID, updatedAt, id, string(fromState))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetTrackArchived(ctx context.Context, tx *sql.Tx, id int64, archived bool, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tracks SET archived=?, updated_at=? WHERE id=?`, archived, updatedAt, id)
	return err
}

func (r Repo) SetTrackDemoLink(ctx context.Context, id int64, link, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tracks SET demo_link=?, updated_at=? WHERE id=?`, nullable(link), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TrackFilters struct {
	Archived bool
	State    domain.TrackState
	Limit    int
}

func (r Repo) ListTracks(ctx context.Context, f TrackFilters) ([]domain.TrackListItem, error) {
	query := `SELECT t.id,t.title,t.class_group_id,t.discipline,t.state,t.archived,t.responsible_id,t.creator_id,t.feedback,t.demo_link,t.mixed_by,t.reviewed_by,t.finalized_by,t.created_at,t.updated_at,
COALESCE(g.name,''), COALESCE(i.name,'')
FROM tracks t
LEFT JOIN class_groups g ON t.class_group_id = g.id
LEFT JOIN institutions i ON g.institution_id = i.id
WHERE t.archived=?`
	args := []any{f.Archived}
	if f.State != "" {
		query += " AND t.state=?"
		args = append(args, string(f.State))
	}
	query += " ORDER BY t.created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackListItem
	for rows.Next() {
		var item domain.TrackListItem
		var classGroupID sql.NullInt64
		var discipline, responsibleID, feedback, demoLink, mixedBy, reviewedBy, finalizedBy sql.NullString
		var state string
		if err := rows.Scan(&item.ID, &item.Title, &classGroupID, &discipline, &state, &item.Archived, &responsibleID, &item.CreatorID,
			&feedback, &demoLink, &mixedBy, &reviewedBy, &finalizedBy, &item.CreatedAt, &item.UpdatedAt,
			&item.ClassGroupName, &item.InstitutionName); err != nil {
			return nil, err
		}
		item.State = domain.TrackState(state)
		if classGroupID.Valid {
			item.ClassGroupID = &classGroupID.Int64
		}
		if discipline.Valid {
			item.Discipline = discipline.String
		}
		if responsibleID.Valid {
			item.ResponsibleID = &responsibleID.String
		}
		if feedback.Valid {
			item.Feedback = feedback.String
		}
		if demoLink.Valid {
			item.DemoLink = demoLink.String
		}
		if mixedBy.Valid {
			item.MixedBy = &mixedBy.String
		}
		if reviewedBy.Valid {
			item.ReviewedBy = &reviewedBy.String
		}
		if finalizedBy.Valid {
			item.FinalizedBy = &finalizedBy.String
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) CountTracksByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state, count(*) FROM tracks WHERE archived=0 GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}
