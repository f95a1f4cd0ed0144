package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MessageRecord is one decoded protocol message captured from the link.
type MessageRecord struct {
	Direction string
	MsgType   string
	TypeID    string
	Body      []byte
	At        time.Time
}

type MessageLogRepo struct {
	db *sql.DB
}

func NewMessageLogRepo(db *sql.DB) *MessageLogRepo {
	return &MessageLogRepo{db: db}
}

func (r *MessageLogRepo) Append(ctx context.Context, rec MessageRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_log(direction, msg_type, type_id, body, at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Direction, rec.MsgType, rec.TypeID, rec.Body, toUnixMillis(rec.At))
	if err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}

func (r *MessageLogRepo) ListRecent(ctx context.Context, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT direction, msg_type, type_id, body, at
		FROM message_log
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list message log: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var (
			rec  MessageRecord
			atMs int64
		)
		if err := rows.Scan(&rec.Direction, &rec.MsgType, &rec.TypeID, &rec.Body, &atMs); err != nil {
			return nil, fmt.Errorf("scan message record: %w", err)
		}
		rec.At = fromUnixMillis(atMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message log: %w", err)
	}
	return out, nil
}

// Prune deletes records older than keep, returning how many were removed.
func (r *MessageLogRepo) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM message_log WHERE at < ?
	`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune message log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}
