package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(user_id,kind,title,message,link,read,metadata,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.UserID, n.Kind, n.Title, n.Message, nullable(n.Link), n.Read, nullable(n.Metadata), n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,kind,title,message,link,read,metadata,created_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += " AND read=0"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var link, metadata sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &link, &n.Read, &metadata, &n.CreatedAt); err != nil {
			return nil, err
		}
		if link.Valid {
			n.Link = link.String
		}
		if metadata.Valid {
			n.Metadata = metadata.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteNotification(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=? AND read=0`, userID).Scan(&count)
	return count, err
}
