package actionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends rows to the action_log table. Appends happen inside the
// caller's transaction so a rolled-back transition leaves no trace.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Detail map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, entityKind string, entityID int64, description, actor string, detail Detail) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var detailJSON any
	if len(detail) > 0 {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal action detail: %w", err)
		}
		detailJSON = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO action_log(action,entity_kind,entity_id,description,actor,detail_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		action, entityKind, entityID, description, nullable(actor), detailJSON, ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
