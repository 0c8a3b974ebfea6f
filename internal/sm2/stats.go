package sm2

import (
	"time"

	"github.com/conorfennell/mathdrill/internal/domain"
)

const day = 24 * time.Hour

// CardStats is a read-only view of a card relative to now.
type CardStats struct {
	IsOverdue        bool                `json:"isOverdue"`
	DaysOverdue      int                 `json:"daysOverdue"`
	MasteryLevel     domain.MasteryLevel `json:"masteryLevel"`
	PerformanceTrend domain.Trend        `json:"performanceTrend"`
}

// GetCardStats classifies a card. It depends only on the card's fields and
// the clock.
func (s *Scheduler) GetCardStats(card domain.ReviewCard) CardStats {
	now := s.now()
	stats := CardStats{
		MasteryLevel:     s.MasteryLevel(card),
		PerformanceTrend: s.Trend(card),
	}
	if now.After(card.NextReview) {
		stats.IsOverdue = true
		stats.DaysOverdue = int(now.Sub(card.NextReview) / day)
	}
	return stats
}

// MasteryLevel buckets a card by its current interval.
func (s *Scheduler) MasteryLevel(card domain.ReviewCard) domain.MasteryLevel {
	switch {
	case card.Repetitions == 0:
		return domain.MasteryLearning
	case card.Interval < s.cfg.YoungMaxInterval:
		return domain.MasteryYoung
	case card.Interval <= s.cfg.MatureMaxInterval:
		return domain.MasteryMature
	default:
		return domain.MasteryMastered
	}
}

// Trend reads the short-term direction from the consecutive counters.
func (s *Scheduler) Trend(card domain.ReviewCard) domain.Trend {
	diff := card.ConsecutiveCorrect - card.ConsecutiveIncorrect
	switch {
	case diff >= s.cfg.TrendThreshold:
		return domain.TrendImproving
	case diff <= -s.cfg.TrendThreshold:
		return domain.TrendDeclining
	default:
		return domain.TrendStable
	}
}
