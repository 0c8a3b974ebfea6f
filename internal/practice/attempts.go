package practice

import (
	"context"
	"errors"
	"fmt"

	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

// AttemptResult is the outcome of recording one attempt.
type AttemptResult struct {
	Attempt domain.AttemptEvent `json:"attempt"`
	Card    domain.ReviewCard   `json:"card"`
	Quality sm2.Quality         `json:"quality"`
	Stats   sm2.CardStats       `json:"stats"`
	NewCard bool                `json:"newCard"`
}

// RecordAttempt rates an attempt, advances the learner's card for the item
// and stores both atomically. The first attempt on an item creates its card.
// The attempt id is always assigned here; a client-supplied id is replaced.
func (s *Service) RecordAttempt(ctx context.Context, userID string, event domain.AttemptEvent) (AttemptResult, error) {
	if err := validateUser(userID); err != nil {
		return AttemptResult{}, err
	}
	if err := s.validateStruct(event); err != nil {
		return AttemptResult{}, err
	}
	if _, err := s.store.FindItem(ctx, event.ItemID); err != nil {
		return AttemptResult{}, err
	}

	event.ID = s.newID()
	if event.AttemptedAt.IsZero() {
		event.AttemptedAt = s.now()
	}

	unlock := s.lockUser(userID)
	defer unlock()

	card, err := s.store.FindCard(ctx, userID, event.ItemID)
	isNew := errors.Is(err, domain.ErrCardNotFound)
	switch {
	case isNew:
		card = s.sched.InitializeCard(event.ItemID)
	case err != nil:
		return AttemptResult{}, fmt.Errorf("get card: %w", err)
	}

	upd := s.sched.UpdateProgress(card, event.Correct, event.TimeSpentSeconds, event.ExpectedTimeSeconds, event.HintsUsed)
	if err := s.store.SaveReview(ctx, userID, upd.Card, event, int(upd.Quality)); err != nil {
		return AttemptResult{}, fmt.Errorf("save review: %w", err)
	}

	s.log.Debug("attempt recorded",
		"user", userID,
		"item", event.ItemID,
		"quality", int(upd.Quality),
		"interval", upd.Card.Interval,
	)

	return AttemptResult{
		Attempt: event,
		Card:    upd.Card,
		Quality: upd.Quality,
		Stats:   s.sched.GetCardStats(upd.Card),
		NewCard: isNew,
	}, nil
}

// RecordSession stores a finished practice session under a new id.
func (s *Service) RecordSession(ctx context.Context, userID string, session domain.PracticeSession) (domain.PracticeSession, error) {
	if err := validateUser(userID); err != nil {
		return domain.PracticeSession{}, err
	}
	if err := s.validateStruct(session); err != nil {
		return domain.PracticeSession{}, err
	}
	session.ID = s.newID()

	unlock := s.lockUser(userID)
	defer unlock()

	if err := s.store.InsertSession(ctx, userID, session); err != nil {
		return domain.PracticeSession{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// Rebuild recomputes every card of a learner by replaying the stored
// attempts from fresh cards, for example after the scheduler constants
// changed. Replayed reviews are scheduled relative to now.
func (s *Service) Rebuild(ctx context.Context, userID string) ([]domain.ReviewCard, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	attempts, err := s.store.AttemptsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	items, err := s.store.ItemsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}
	replay := attempts[:0:0]
	for _, a := range attempts {
		if known[a.ItemID] {
			replay = append(replay, a)
		}
	}

	cards := s.sched.BulkUpdateCards(nil, replay)
	if err := s.store.SaveCards(ctx, userID, cards); err != nil {
		return nil, fmt.Errorf("save cards: %w", err)
	}
	s.log.Info("cards rebuilt", "user", userID, "cards", len(cards), "attempts", len(replay))
	return cards, nil
}
