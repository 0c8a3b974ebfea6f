// Package queue turns due cards into a bounded, interleaved daily practice
// queue and summarizes upcoming workload.
package queue

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

const day = 24 * time.Hour

// PrioritizedReview is a due card joined with its catalog metadata. It only
// lives for the duration of one queue build.
type PrioritizedReview struct {
	Card     domain.ReviewCard `json:"card"`
	Item     domain.Item       `json:"item"`
	Stats    sm2.CardStats     `json:"stats"`
	Priority float64           `json:"priority"`
	Reasons  []string          `json:"reasons"`
}

// MissingMetadataError reports cards whose items are absent from the
// catalog. It matches domain.ErrItemNotFound with errors.Is.
type MissingMetadataError struct {
	ItemIDs []string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("no catalog metadata for %d item(s): %s", len(e.ItemIDs), strings.Join(e.ItemIDs, ", "))
}

func (e *MissingMetadataError) Unwrap() error { return domain.ErrItemNotFound }

// Builder assembles practice queues. It reads snapshots only and is safe
// for concurrent use.
type Builder struct {
	cfg   Config
	sched *sm2.Scheduler
}

// NewBuilder creates a Builder that reads due state through sched.
func NewBuilder(cfg Config, sched *sm2.Scheduler) *Builder {
	return &Builder{cfg: cfg, sched: sched}
}

// Config returns the builder's configuration.
func (b *Builder) Config() Config { return b.cfg }

// Enrich joins cards with catalog items. Cards without metadata are left
// out and reported through a *MissingMetadataError; the returned reviews
// still cover every card that could be joined.
func (b *Builder) Enrich(cards []domain.ReviewCard, items []domain.Item) ([]PrioritizedReview, error) {
	catalog := make(map[string]domain.Item, len(items))
	for _, it := range items {
		catalog[it.ID] = it
	}

	reviews := make([]PrioritizedReview, 0, len(cards))
	var missing []string
	for _, card := range cards {
		item, ok := catalog[card.ItemID]
		if !ok {
			missing = append(missing, card.ItemID)
			continue
		}
		reviews = append(reviews, PrioritizedReview{
			Card:  card,
			Item:  item,
			Stats: b.sched.GetCardStats(card),
		})
	}
	if len(missing) > 0 {
		return reviews, &MissingMetadataError{ItemIDs: missing}
	}
	return reviews, nil
}

// BuildDailyQueue returns up to targetCount due item ids in practice order.
// A *MissingMetadataError is returned alongside the queue built from the
// cards that did have metadata.
func (b *Builder) BuildDailyQueue(items []domain.Item, progress domain.UserProgress, targetCount int) ([]string, error) {
	reviews, err := b.buildQueue(items, progress, targetCount)
	return itemIDs(reviews), err
}

func (b *Builder) buildQueue(items []domain.Item, progress domain.UserProgress, targetCount int) ([]PrioritizedReview, error) {
	due := b.sched.GetReviewQueue(progress.Cards)
	reviews, err := b.Enrich(due, items)
	return b.ApplyInterleaving(b.PrioritizeReviews(reviews), targetCount), err
}

// PrioritizeReviews scores every review and returns them sorted by
// descending priority. Equal priorities keep their input order.
func (b *Builder) PrioritizeReviews(reviews []PrioritizedReview) []PrioritizedReview {
	now := b.sched.Now()
	out := make([]PrioritizedReview, len(reviews))
	for i, r := range reviews {
		r.Priority, r.Reasons = b.priority(r, now)
		out[i] = r
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func (b *Builder) priority(r PrioritizedReview, now time.Time) (float64, []string) {
	var reasons []string

	overdue := math.Min(float64(r.Stats.DaysOverdue)/b.cfg.OverdueHorizonDays, 1) * b.cfg.OverduePoints
	if r.Stats.DaysOverdue > 0 {
		reasons = append(reasons, fmt.Sprintf("overdue by %d day(s)", r.Stats.DaysOverdue))
	}

	weakness := math.Max(0, 1-float64(r.Card.ConsecutiveCorrect)/b.cfg.WeaknessStreak) * b.cfg.WeaknessPoints
	if r.Card.ConsecutiveIncorrect > 0 {
		reasons = append(reasons, "recent mistakes")
	}

	recency := b.cfg.RecencyPoints
	if r.Card.LastReviewed == nil {
		reasons = append(reasons, "never reviewed")
	} else {
		days := now.Sub(*r.Card.LastReviewed).Hours() / 24
		recency = math.Max(0, math.Min(days/b.cfg.RecencyHorizonDays, 1)) * b.cfg.RecencyPoints
		if days >= b.cfg.RecencyHorizonDays {
			reasons = append(reasons, "not reviewed recently")
		}
	}

	score := overdue + weakness + b.cfg.VarietyPoints + recency
	if r.Stats.MasteryLevel == domain.MasteryLearning {
		score += b.cfg.LearningBonus
		reasons = append(reasons, "still learning")
	}
	if r.Stats.PerformanceTrend == domain.TrendDeclining {
		score += b.cfg.DecliningBonus
		reasons = append(reasons, "declining performance")
	}
	return score, reasons
}

// ApplyInterleaving greedily picks up to targetCount reviews so that no
// more than MaxTopicStreak consecutive picks share a topic and no more than
// MaxUnitStreak share a unit. When the pool cannot break a streak the limit
// is relaxed rather than ending the queue early. A non-positive
// targetCount takes every review.
func (b *Builder) ApplyInterleaving(reviews []PrioritizedReview, targetCount int) []PrioritizedReview {
	if targetCount <= 0 || targetCount > len(reviews) {
		targetCount = len(reviews)
	}

	remaining := make([]PrioritizedReview, len(reviews))
	copy(remaining, reviews)
	out := make([]PrioritizedReview, 0, targetCount)

	var lastTopic, lastUnit string
	var topicStreak, unitStreak int

	for len(out) < targetCount {
		mustBreakTopic := topicStreak >= b.cfg.MaxTopicStreak
		mustBreakUnit := unitStreak >= b.cfg.MaxUnitStreak

		best := b.pick(remaining, lastTopic, lastUnit, mustBreakTopic, mustBreakUnit)
		if best < 0 {
			best = b.pick(remaining, lastTopic, lastUnit, false, mustBreakUnit)
		}
		if best < 0 {
			best = b.pick(remaining, lastTopic, lastUnit, false, false)
		}

		chosen := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		out = append(out, chosen)

		if len(out) > 1 && chosen.Item.Topic == lastTopic {
			topicStreak++
		} else {
			topicStreak = 1
		}
		if len(out) > 1 && chosen.Item.Unit == lastUnit {
			unitStreak++
		} else {
			unitStreak = 1
		}
		lastTopic, lastUnit = chosen.Item.Topic, chosen.Item.Unit
	}
	return out
}

// pick returns the index of the best candidate honouring the break
// constraints, or -1 when none qualifies.
func (b *Builder) pick(candidates []PrioritizedReview, lastTopic, lastUnit string, breakTopic, breakUnit bool) int {
	best := -1
	bestScore := math.Inf(-1)
	for i, c := range candidates {
		sameTopic := c.Item.Topic == lastTopic
		sameUnit := c.Item.Unit == lastUnit
		if (breakTopic && sameTopic) || (breakUnit && sameUnit) {
			continue
		}
		score := c.Priority
		if !sameTopic {
			score += b.cfg.TopicSwitchBonus
		}
		if !sameUnit {
			score += b.cfg.UnitSwitchBonus
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func itemIDs(reviews []PrioritizedReview) []string {
	ids := make([]string, len(reviews))
	for i, r := range reviews {
		ids[i] = r.Card.ItemID
	}
	return ids
}
