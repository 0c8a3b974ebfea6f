// Package sm2 owns the per-item memory model: an SM-2 style update rule
// driven by a quality rating derived from each attempt.
package sm2

import (
	"math"
	"time"

	"github.com/conorfennell/mathdrill/internal/domain"
)

// Quality is the 0-5 recall rating fed into the update rule.
type Quality int

const (
	QualityBlackout Quality = iota
	QualityWrongWithHint
	QualityWrong
	QualitySlow
	QualityHesitant
	QualityPerfect
)

// Passed reports whether q counts as a successful recall under cfg.
func (q Quality) Passed(cfg Config) bool {
	return int(q) >= cfg.PassingQuality
}

// Config holds the constants of the update rule.
type Config struct {
	InitialEaseFactor float64 `koanf:"initial_ease_factor" validate:"gte=1.3"`
	MinEaseFactor     float64 `koanf:"min_ease_factor" validate:"gt=0"`
	FirstInterval     int     `koanf:"first_interval" validate:"gte=1"`
	SecondInterval    int     `koanf:"second_interval" validate:"gte=1"`
	FailureInterval   int     `koanf:"failure_interval" validate:"gte=1"`
	PassingQuality    int     `koanf:"passing_quality" validate:"gte=0,lte=5"`
	// Correct answers slower than SlowTimeRatio score 3, slower than
	// OnTimeRatio score 4, otherwise 5.
	SlowTimeRatio float64 `koanf:"slow_time_ratio" validate:"gt=0"`
	OnTimeRatio   float64 `koanf:"on_time_ratio" validate:"gt=0"`
	// Intervals below YoungMaxInterval are young, up to MatureMaxInterval
	// mature, above that mastered.
	YoungMaxInterval  int `koanf:"young_max_interval" validate:"gte=1"`
	MatureMaxInterval int `koanf:"mature_max_interval" validate:"gte=1"`
	TrendThreshold    int `koanf:"trend_threshold" validate:"gte=1"`
}

// DefaultConfig returns the classic SM-2 constants.
func DefaultConfig() Config {
	return Config{
		InitialEaseFactor: 2.5,
		MinEaseFactor:     1.3,
		FirstInterval:     1,
		SecondInterval:    6,
		FailureInterval:   1,
		PassingQuality:    3,
		SlowTimeRatio:     1.5,
		OnTimeRatio:       1.0,
		YoungMaxInterval:  21,
		MatureMaxInterval: 90,
		TrendThreshold:    2,
	}
}

// Scheduler applies the update rule. It holds no state besides its
// configuration and clock and is safe for concurrent use.
type Scheduler struct {
	cfg Config
	now func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler bound to cfg.
func NewScheduler(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time { return s.now() }

// InitializeCard returns a fresh card for an item seen for the first time.
// It does not check whether a card already exists.
func (s *Scheduler) InitializeCard(itemID string) domain.ReviewCard {
	return domain.ReviewCard{
		ItemID:     itemID,
		EaseFactor: s.cfg.InitialEaseFactor,
		NextReview: s.now(),
	}
}

// CalculateQuality maps an attempt onto the 0-5 scale.
//
// Negative times are treated as zero and a non-positive expected time as
// "on time", so malformed timings never produce NaN or Inf ratios.
func (s *Scheduler) CalculateQuality(correct bool, timeSpentSeconds, expectedTimeSeconds float64, hintsUsed int) Quality {
	if !correct {
		switch {
		case hintsUsed <= 0:
			return QualityWrong
		case hintsUsed == 1:
			return QualityWrongWithHint
		default:
			return QualityBlackout
		}
	}

	ratio := timeRatio(timeSpentSeconds, expectedTimeSeconds)
	switch {
	case ratio > s.cfg.SlowTimeRatio:
		return QualitySlow
	case ratio > s.cfg.OnTimeRatio:
		return QualityHesitant
	default:
		return QualityPerfect
	}
}

func timeRatio(spent, expected float64) float64 {
	if expected <= 0 {
		return 1
	}
	if spent < 0 {
		spent = 0
	}
	return spent / expected
}

// Update is the outcome of a single review.
type Update struct {
	Card    domain.ReviewCard `json:"card"`
	Quality Quality           `json:"quality"`
}

// UpdateProgress rates an attempt and returns the card's next state.
// The input card is not modified.
func (s *Scheduler) UpdateProgress(card domain.ReviewCard, correct bool, timeSpentSeconds, expectedTimeSeconds float64, hintsUsed int) Update {
	q := s.CalculateQuality(correct, timeSpentSeconds, expectedTimeSeconds, hintsUsed)
	return Update{Card: s.apply(card, q), Quality: q}
}

// apply is the SM-2 transition for a known quality.
func (s *Scheduler) apply(card domain.ReviewCard, q Quality) domain.ReviewCard {
	now := s.now()
	next := card

	if q.Passed(s.cfg) {
		next.Repetitions++
		switch next.Repetitions {
		case 1:
			next.Interval = s.cfg.FirstInterval
		case 2:
			next.Interval = s.cfg.SecondInterval
		default:
			next.Interval = int(math.Round(float64(card.Interval) * card.EaseFactor))
		}
		next.ConsecutiveCorrect++
		next.ConsecutiveIncorrect = 0
	} else {
		next.Repetitions = 0
		next.Interval = s.cfg.FailureInterval
		next.ConsecutiveIncorrect++
		next.ConsecutiveCorrect = 0
	}
	next.EaseFactor = s.nextEaseFactor(card.EaseFactor, q)

	next.NextReview = now.AddDate(0, 0, next.Interval)
	reviewed := now
	next.LastReviewed = &reviewed
	return next
}

// nextEaseFactor is EF' = EF + (0.1 - (5-q)(0.08 + (5-q)0.02)), floored.
func (s *Scheduler) nextEaseFactor(ef float64, q Quality) float64 {
	d := float64(QualityPerfect - q)
	ef += 0.1 - d*(0.08+d*0.02)
	return math.Max(ef, s.cfg.MinEaseFactor)
}

// GetReviewQueue returns the cards that are due now, in input order.
func (s *Scheduler) GetReviewQueue(cards []domain.ReviewCard) []domain.ReviewCard {
	now := s.now()
	due := make([]domain.ReviewCard, 0, len(cards))
	for _, c := range cards {
		if c.IsDue(now) {
			due = append(due, c)
		}
	}
	return due
}

// BulkUpdateCards applies events in order and returns the resulting card
// set. Events for items without a card start from a fresh card, which is
// appended after the existing ones. The input slice is not modified.
func (s *Scheduler) BulkUpdateCards(cards []domain.ReviewCard, events []domain.AttemptEvent) []domain.ReviewCard {
	out := make([]domain.ReviewCard, len(cards), len(cards)+len(events))
	copy(out, cards)

	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.ItemID] = i
	}

	for _, ev := range events {
		i, ok := index[ev.ItemID]
		if !ok {
			out = append(out, s.InitializeCard(ev.ItemID))
			i = len(out) - 1
			index[ev.ItemID] = i
		}
		out[i] = s.UpdateProgress(out[i], ev.Correct, ev.TimeSpentSeconds, ev.ExpectedTimeSeconds, ev.HintsUsed).Card
	}
	return out
}
