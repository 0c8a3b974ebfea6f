package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/mathdrill/internal/domain"
)

const cardColumns = `item_id, ease_factor, interval_days, repetitions, next_review, last_reviewed, consecutive_correct, consecutive_incorrect`

func scanCard(row scanner) (domain.ReviewCard, error) {
	var c domain.ReviewCard
	var next int64
	var last sql.NullInt64
	if err := row.Scan(
		&c.ItemID,
		&c.EaseFactor,
		&c.Interval,
		&c.Repetitions,
		&next,
		&last,
		&c.ConsecutiveCorrect,
		&c.ConsecutiveIncorrect,
	); err != nil {
		return domain.ReviewCard{}, err
	}
	c.NextReview = fromMillis(next)
	c.LastReviewed = fromNullMillis(last)
	return c, nil
}

// FindCard retrieves one learner's card for an item.
func (db *DB) FindCard(ctx context.Context, userID, itemID string) (domain.ReviewCard, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE user_id = ? AND item_id = ?
	`, userID, itemID)

	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReviewCard{}, fmt.Errorf("card %s for user %s: %w", itemID, userID, domain.ErrCardNotFound)
		}
		return domain.ReviewCard{}, fmt.Errorf("failed to find card %s for user %s: %w", itemID, userID, err)
	}
	return c, nil
}

// CardsForUser returns all of a learner's cards ordered by next review.
func (db *DB) CardsForUser(ctx context.Context, userID string) ([]domain.ReviewCard, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE user_id = ?
		ORDER BY next_review, item_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for user %s: %w", userID, err)
	}
	defer rows.Close()

	var cards []domain.ReviewCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row for user %s: %w", userID, err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// SaveReview stores a card's new state and the attempt that produced it
// in one transaction.
func (db *DB) SaveReview(ctx context.Context, userID string, card domain.ReviewCard, attempt domain.AttemptEvent, quality int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertCard(ctx, tx, userID, card); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attempts (id, user_id, item_id, correct, time_spent, expected_time, hints_used, quality, attempted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			attempt.ID,
			userID,
			attempt.ItemID,
			attempt.Correct,
			attempt.TimeSpentSeconds,
			attempt.ExpectedTimeSeconds,
			attempt.HintsUsed,
			quality,
			toMillis(attempt.AttemptedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt %s: %w", attempt.ID, err)
		}
		return nil
	})
}

// SaveCards replaces the stored state of the given cards.
func (db *DB) SaveCards(ctx context.Context, userID string, cards []domain.ReviewCard) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cards {
			if err := upsertCard(ctx, tx, userID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertCard(ctx context.Context, tx *sql.Tx, userID string, c domain.ReviewCard) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cards (user_id, `+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			ease_factor = excluded.ease_factor,
			interval_days = excluded.interval_days,
			repetitions = excluded.repetitions,
			next_review = excluded.next_review,
			last_reviewed = excluded.last_reviewed,
			consecutive_correct = excluded.consecutive_correct,
			consecutive_incorrect = excluded.consecutive_incorrect
	`,
		userID,
		c.ItemID,
		c.EaseFactor,
		c.Interval,
		c.Repetitions,
		toMillis(c.NextReview),
		toNullMillis(c.LastReviewed),
		c.ConsecutiveCorrect,
		c.ConsecutiveIncorrect,
	)
	if err != nil {
		return fmt.Errorf("failed to save card %s for user %s: %w", c.ItemID, userID, err)
	}
	return nil
}

// AttemptsForUser returns a learner's attempts, oldest first.
func (db *DB) AttemptsForUser(ctx context.Context, userID string) ([]domain.AttemptEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, item_id, correct, time_spent, expected_time, hints_used, attempted_at
		FROM attempts WHERE user_id = ?
		ORDER BY attempted_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var attempts []domain.AttemptEvent
	for rows.Next() {
		var a domain.AttemptEvent
		var at int64
		if err := rows.Scan(&a.ID, &a.ItemID, &a.Correct, &a.TimeSpentSeconds, &a.ExpectedTimeSeconds, &a.HintsUsed, &at); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row for user %s: %w", userID, err)
		}
		a.AttemptedAt = fromMillis(at)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// InsertSession records a practice session.
func (db *DB) InsertSession(ctx context.Context, userID string, s domain.PracticeSession) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, started_at, duration_seconds, items_completed)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, userID, toMillis(s.StartedAt), s.DurationSeconds, s.ItemsCompleted)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}
	return nil
}

// SessionsSince returns sessions started at or after since.
func (db *DB) SessionsSince(ctx context.Context, userID string, since time.Time) ([]domain.PracticeSession, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, started_at, duration_seconds, items_completed
		FROM sessions WHERE user_id = ? AND started_at >= ?
		ORDER BY started_at
	`, userID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var sessions []domain.PracticeSession
	for rows.Next() {
		var s domain.PracticeSession
		var started int64
		if err := rows.Scan(&s.ID, &started, &s.DurationSeconds, &s.ItemsCompleted); err != nil {
			return nil, fmt.Errorf("failed to scan session row for user %s: %w", userID, err)
		}
		s.StartedAt = fromMillis(started)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SaveUnitProgress replaces a learner's unit progress rows.
func (db *DB) SaveUnitProgress(ctx context.Context, userID string, units []domain.UnitProgress) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unit_progress WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("failed to clear unit progress for user %s: %w", userID, err)
		}
		for _, u := range units {
			weak := u.WeakTopics
			if weak == nil {
				weak = []string{}
			}
			encoded, err := json.Marshal(weak)
			if err != nil {
				return fmt.Errorf("failed to encode weak topics for unit %s: %w", u.Unit, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO unit_progress (user_id, unit, mastery, weak_topics, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, userID, u.Unit, u.Mastery, string(encoded), toMillis(u.UpdatedAt))
			if err != nil {
				return fmt.Errorf("failed to save unit progress %s for user %s: %w", u.Unit, userID, err)
			}
		}
		return nil
	})
}

// UnitProgress returns a learner's stored unit progress keyed by unit.
func (db *DB) UnitProgress(ctx context.Context, userID string) (map[string]domain.UnitProgress, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT unit, mastery, weak_topics, updated_at
		FROM unit_progress WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unit progress for user %s: %w", userID, err)
	}
	defer rows.Close()

	units := make(map[string]domain.UnitProgress)
	for rows.Next() {
		var u domain.UnitProgress
		var weak string
		var updated int64
		if err := rows.Scan(&u.Unit, &u.Mastery, &weak, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan unit progress for user %s: %w", userID, err)
		}
		if err := json.Unmarshal([]byte(weak), &u.WeakTopics); err != nil {
			return nil, fmt.Errorf("failed to decode weak topics for unit %s: %w", u.Unit, err)
		}
		u.UpdatedAt = fromMillis(updated)
		units[u.Unit] = u
	}
	return units, rows.Err()
}

// LoadProgress assembles the snapshot the engine works on: cards, unit
// progress and sessions started at or after sessionsSince.
func (db *DB) LoadProgress(ctx context.Context, userID string, sessionsSince time.Time) (domain.UserProgress, error) {
	cards, err := db.CardsForUser(ctx, userID)
	if err != nil {
		return domain.UserProgress{}, err
	}
	units, err := db.UnitProgress(ctx, userID)
	if err != nil {
		return domain.UserProgress{}, err
	}
	sessions, err := db.SessionsSince(ctx, userID, sessionsSince)
	if err != nil {
		return domain.UserProgress{}, err
	}
	return domain.UserProgress{
		UserID:   userID,
		Cards:    cards,
		Units:    units,
		Sessions: sessions,
	}, nil
}
