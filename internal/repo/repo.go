package repo

import (
	"context"
	"database/sql"
	"errors"

	"trackline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) InsertInstitution(ctx context.Context, inst domain.Institution) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO institutions(name,acronym) VALUES (?,?)`,
		inst.Name, nullable(inst.Acronym))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) InsertClassGroup(ctx context.Context, g domain.ClassGroup) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO class_groups(name,institution_id) VALUES (?,?)`,
		g.Name, g.InstitutionID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetClassGroup(ctx context.Context, id int64) (domain.ClassGroup, error) {
	var g domain.ClassGroup
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,institution_id FROM class_groups WHERE id=?`, id).
		Scan(&g.ID, &g.Name, &g.InstitutionID)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) InsertMentor(ctx context.Context, m domain.Mentor) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO mentors(name,email,user_id) VALUES (?,?,?)`,
		m.Name, nullable(m.Email), nullable(m.UserID))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetMentor(ctx context.Context, id int64) (domain.Mentor, error) {
	var m domain.Mentor
	var email, userID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,user_id FROM mentors WHERE id=?`, id).
		Scan(&m.ID, &m.Name, &email, &userID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if email.Valid {
		m.Email = email.String
	}
	if userID.Valid {
		m.UserID = userID.String
	}
	return m, nil
}

// GetMentorByEmail resolves a mentor through the identity key shared with
// the identity provider.
func (r Repo) GetMentorByEmail(ctx context.Context, email string) (domain.Mentor, error) {
	var m domain.Mentor
	var em, userID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,user_id FROM mentors WHERE email=?`, email).
		Scan(&m.ID, &m.Name, &em, &userID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if em.Valid {
		m.Email = em.String
	}
	if userID.Valid {
		m.UserID = userID.String
	}
	return m, nil
}

func (r Repo) ListActions(ctx context.Context, entityKind string, entityID int64, limit int) ([]domain.ActionEntry, error) {
	query := `SELECT id,action,entity_kind,entity_id,description,actor,detail_json,created_at FROM action_log WHERE entity_kind=? AND entity_id=? ORDER BY id DESC`
	args := []any{entityKind, entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionEntry
	for rows.Next() {
		var e domain.ActionEntry
		var actor, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityKind, &e.EntityID, &e.Description, &actor, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			e.Actor = actor.String
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
