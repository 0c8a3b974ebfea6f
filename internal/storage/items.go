package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/mathdrill/internal/domain"
)

// UpsertItem inserts a catalog item or refreshes its metadata, and records
// that sourceID lists it.
func (db *DB) UpsertItem(ctx context.Context, item domain.Item, sourceID int64) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, prompt, answer, unit, topic, tier, estimated_seconds, tool_required)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				prompt = excluded.prompt,
				answer = excluded.answer,
				unit = excluded.unit,
				topic = excluded.topic,
				tier = excluded.tier,
				estimated_seconds = excluded.estimated_seconds,
				tool_required = excluded.tool_required
		`,
			item.ID,
			item.Prompt,
			item.Answer,
			item.Unit,
			item.Topic,
			int(item.Tier),
			item.EstimatedTimeSeconds,
			item.ToolRequired,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO item_sources (item_id, source_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, item.ID, sourceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

// FindItem retrieves a catalog item without learner statistics.
func (db *DB) FindItem(ctx context.Context, id string) (domain.Item, error) {
	var it domain.Item
	var tier int
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, prompt, answer, unit, topic, tier, estimated_seconds, tool_required
		FROM items WHERE id = ?
	`, id).Scan(&it.ID, &it.Prompt, &it.Answer, &it.Unit, &it.Topic, &tier, &it.EstimatedTimeSeconds, &it.ToolRequired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, fmt.Errorf("item %s: %w", id, domain.ErrItemNotFound)
		}
		return domain.Item{}, fmt.Errorf("failed to find item %s: %w", id, err)
	}
	it.Tier = domain.Tier(tier)
	return it, nil
}

// ItemIDsBySource lists the ids of the items a source provides.
func (db *DB) ItemIDsBySource(ctx context.Context, sourceID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT item_id FROM item_sources WHERE source_id = ? ORDER BY item_id
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id for source ID %d: %w", sourceID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DetachItem records that sourceID no longer lists an item. When no other
// source lists it, the item is deleted together with learners' cards for it,
// and deleted is true.
func (db *DB) DetachItem(ctx context.Context, itemID string, sourceID int64) (deleted bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM item_sources WHERE item_id = ? AND source_id = ?
		`, itemID, sourceID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM items
			WHERE id = ? AND NOT EXISTS (SELECT 1 FROM item_sources WHERE item_id = ?)
		`, itemID, itemID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to detach item %s from source ID %d: %w", itemID, sourceID, err)
	}
	return deleted, nil
}

// ItemsForUser returns the whole catalog with the learner's practice
// count, success rate and last practice time filled in.
func (db *DB) ItemsForUser(ctx context.Context, userID string) ([]domain.Item, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.id, i.prompt, i.answer, i.unit, i.topic, i.tier, i.estimated_seconds, i.tool_required,
			COUNT(a.id), COALESCE(AVG(a.correct), 0.0), MAX(a.attempted_at)
		FROM items i
		LEFT JOIN attempts a ON a.item_id = i.id AND a.user_id = ?
		GROUP BY i.id
		ORDER BY i.unit, i.topic, i.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for user %s: %w", userID, err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		var tier int
		var last sql.NullInt64
		if err := rows.Scan(
			&it.ID,
			&it.Prompt,
			&it.Answer,
			&it.Unit,
			&it.Topic,
			&tier,
			&it.EstimatedTimeSeconds,
			&it.ToolRequired,
			&it.PracticeCount,
			&it.SuccessRate,
			&last,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item row for user %s: %w", userID, err)
		}
		it.Tier = domain.Tier(tier)
		it.LastPracticed = fromNullMillis(last)
		items = append(items, it)
	}
	return items, rows.Err()
}
