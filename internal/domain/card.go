package domain

import "time"

// ReviewCard is the memory state of one practice item for one learner.
// Field names are part of the persisted progress format.
type ReviewCard struct {
	ItemID               string     `json:"itemId"`
	EaseFactor           float64    `json:"easeFactor"`
	Interval             int        `json:"interval"`
	Repetitions          int        `json:"repetitions"`
	NextReview           time.Time  `json:"nextReview"`
	LastReviewed         *time.Time `json:"lastReviewed,omitempty"`
	ConsecutiveCorrect   int        `json:"consecutiveCorrect"`
	ConsecutiveIncorrect int        `json:"consecutiveIncorrect"`
}

// IsDue reports whether the card should be shown at the given time.
func (c ReviewCard) IsDue(now time.Time) bool {
	return !c.NextReview.After(now)
}

// AttemptEvent records a single answer submitted by a learner.
type AttemptEvent struct {
	ID                  string    `json:"id,omitempty"`
	ItemID              string    `json:"itemId" validate:"required"`
	Correct             bool      `json:"correct"`
	TimeSpentSeconds    float64   `json:"timeSpentSeconds" validate:"gte=0"`
	ExpectedTimeSeconds float64   `json:"expectedTimeSeconds" validate:"gt=0"`
	HintsUsed           int       `json:"hintsUsed" validate:"gte=0"`
	AttemptedAt         time.Time `json:"attemptedAt"`
}

// MasteryLevel is a coarse bucket derived from a card's interval.
type MasteryLevel string

const (
	MasteryLearning MasteryLevel = "learning"
	MasteryYoung    MasteryLevel = "young"
	MasteryMature   MasteryLevel = "mature"
	MasteryMastered MasteryLevel = "mastered"
)

// Trend summarizes the short-term direction of a learner's results.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)
