package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ChannelRecord is one channel's raw settings blob as last reported by the
// radio.
type ChannelRecord struct {
	ChannelID uint8
	ActionID  uint8
	Data      []byte
	UpdatedAt time.Time
}

var ErrChannelNotFound = errors.New("channel not found")

type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Upsert(ctx context.Context, rec ChannelRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels(channel_id, action_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			action_id = excluded.action_id,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, int64(rec.ChannelID), int64(rec.ActionID), rec.Data, toUnixMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

func (r *ChannelRepo) Get(ctx context.Context, channelID uint8) (ChannelRecord, error) {
	var (
		rec   ChannelRecord
		chID  int64
		actID int64
		updMs int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT channel_id, action_id, data, updated_at
		FROM channels
		WHERE channel_id = ?
	`, int64(channelID)).Scan(&chID, &actID, &rec.Data, &updMs)
	if errors.Is(err, sql.ErrNoRows) {
		return ChannelRecord{}, ErrChannelNotFound
	}
	if err != nil {
		return ChannelRecord{}, fmt.Errorf("get channel: %w", err)
	}
	rec.ChannelID = uint8(chID)
	rec.ActionID = uint8(actID)
	rec.UpdatedAt = fromUnixMillis(updMs)

	return rec, nil
}

func (r *ChannelRepo) List(ctx context.Context) ([]ChannelRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT channel_id, action_id, data, updated_at
		FROM channels
		ORDER BY channel_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelRecord
	for rows.Next() {
		var (
			rec   ChannelRecord
			chID  int64
			actID int64
			updMs int64
		)
		if err := rows.Scan(&chID, &actID, &rec.Data, &updMs); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		rec.ChannelID = uint8(chID)
		rec.ActionID = uint8(actID)
		rec.UpdatedAt = fromUnixMillis(updMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}
