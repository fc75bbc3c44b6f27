package sqlitestore

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one entry of a post's activity trail (publish outcomes, syncs,
// escalations).
type Event struct {
	TS      time.Time       `json:"ts"`
	PostID  string          `json:"post_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PutEvent appends an event for postID.
func (d *DB) PutEvent(ctx context.Context, ts time.Time, postID, typ string, payload any) error {
	pb, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO events(ts, post_id, type, payload) VALUES(?,?,?,?)`,
		toMillis(ts), postID, typ, string(pb))
	return err
}

// PostEvents returns the events of postID in chronological order. An empty
// typ matches every type.
func (d *DB) PostEvents(ctx context.Context, postID, typ string) ([]Event, error) {
	q := `SELECT ts, post_id, type, payload FROM events WHERE post_id=?`
	args := []any{postID}
	if typ != "" {
		q += ` AND type=?`
		args = append(args, typ)
	}
	rows, err := d.sql.QueryContext(ctx, q+` ORDER BY ts, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e       Event
			ts      int64
			payload string
		)
		if err := rows.Scan(&ts, &e.PostID, &e.Type, &payload); err != nil {
			return nil, err
		}
		e.TS = fromMillis(ts)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
