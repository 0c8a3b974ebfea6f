// Package difficulty recommends difficulty tiers from attempt history and
// ranks candidate items for what to practice next.
package difficulty

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/conorfennell/mathdrill/internal/domain"
)

// Calculator is stateless apart from its configuration and clock.
type Calculator struct {
	cfg Config
	now func() time.Time
}

// Option customizes a Calculator.
type Option func(*Calculator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// New creates a Calculator bound to cfg.
func New(cfg Config, opts ...Option) *Calculator {
	c := &Calculator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the calculator's configuration.
func (c *Calculator) Config() Config { return c.cfg }

// CalculateDifficulty recommends a tier for item from the learner's attempt
// history. With too few attempts the item's own tier is returned.
func (c *Calculator) CalculateDifficulty(item domain.Item, history []domain.AttemptEvent) domain.Tier {
	attempts := attemptsFor(item.ID, history)
	if len(attempts) < c.cfg.MinAttempts {
		return item.Tier
	}

	accuracy := accuracyOf(attempts)
	score := 1 + c.cfg.AccuracyWeight*accuracy - c.cfg.HintPenalty*averageHints(attempts)
	switch c.trend(attempts, accuracy) {
	case domain.TrendImproving:
		score += c.cfg.TrendWeight
	case domain.TrendDeclining:
		score -= c.cfg.TrendWeight
	}
	score = math.Max(1, math.Min(3, score))

	switch {
	case score < c.cfg.EasyBelow:
		return domain.TierEasy
	case score < c.cfg.MediumBelow:
		return domain.TierMedium
	default:
		return domain.TierHard
	}
}

// trend compares the most recent window against the whole history.
func (c *Calculator) trend(attempts []domain.AttemptEvent, overall float64) domain.Trend {
	recent := attempts
	if len(recent) > c.cfg.RecentWindow {
		recent = recent[len(recent)-c.cfg.RecentWindow:]
	}
	diff := accuracyOf(recent) - overall
	switch {
	case diff > c.cfg.TrendBand:
		return domain.TrendImproving
	case diff < -c.cfg.TrendBand:
		return domain.TrendDeclining
	default:
		return domain.TrendStable
	}
}

// Adjustment is a one-shot tier recommendation.
type Adjustment struct {
	Current      domain.Tier `json:"current"`
	Recommended  domain.Tier `json:"recommended"`
	Confidence   float64     `json:"confidence"`
	Reason       string      `json:"reason"`
	ShouldAdjust bool        `json:"shouldAdjust"`
}

// AdjustDifficultyBasedOnPerformance scores aggregate performance on an item
// and recommends moving at most one tier.
func (c *Calculator) AdjustDifficultyBasedOnPerformance(item domain.Item, accuracy, averageTimeSeconds, hintsUsed float64) Adjustment {
	var score float64
	var reasons []string

	switch {
	case accuracy >= c.cfg.HighAccuracy:
		score++
		reasons = append(reasons, "high accuracy")
	case accuracy < c.cfg.LowAccuracy:
		score--
		reasons = append(reasons, "low accuracy")
	}

	ratio := 1.0
	if item.EstimatedTimeSeconds > 0 && averageTimeSeconds >= 0 {
		ratio = averageTimeSeconds / float64(item.EstimatedTimeSeconds)
	}
	switch {
	case ratio < c.cfg.FastTimeRatio:
		score += 0.5
		reasons = append(reasons, "fast completion")
	case ratio > c.cfg.SlowTimeRatio:
		score -= 0.5
		reasons = append(reasons, "slow completion")
	}

	switch {
	case hintsUsed <= 0:
		score += 0.5
		reasons = append(reasons, "no hints needed")
	case hintsUsed >= c.cfg.ManyHints:
		score -= 0.5
		reasons = append(reasons, "frequent hints")
	}

	current := item.Tier.Clamp()
	recommended := current
	switch {
	case score >= c.cfg.AdjustThreshold:
		recommended = (current + 1).Clamp()
	case score <= -c.cfg.AdjustThreshold:
		recommended = (current - 1).Clamp()
	}

	reason := "performance matches current difficulty"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ", ")
	}

	return Adjustment{
		Current:      current,
		Recommended:  recommended,
		Confidence:   math.Min(1, math.Abs(score)/2),
		Reason:       reason,
		ShouldAdjust: recommended != current,
	}
}

// Filters narrows the candidates considered by RecommendNextProblem.
// Zero values mean "no constraint".
type Filters struct {
	Unit    string      `json:"unit,omitempty"`
	Topic   string      `json:"topic,omitempty"`
	MaxTier domain.Tier `json:"maxDifficulty,omitempty"`
}

func (f Filters) match(item domain.Item) bool {
	if f.Unit != "" && item.Unit != f.Unit {
		return false
	}
	if f.Topic != "" && item.Topic != f.Topic {
		return false
	}
	if f.MaxTier != 0 && item.Tier > f.MaxTier {
		return false
	}
	return true
}

// RecommendNextProblem returns the highest scoring candidate after
// filtering, or nil when nothing is left. Ties keep candidate order.
func (c *Calculator) RecommendNextProblem(progress domain.UserProgress, candidates []domain.Item, filters Filters) *domain.Item {
	var best *domain.Item
	bestScore := math.Inf(-1)
	for i := range candidates {
		if !filters.match(candidates[i]) {
			continue
		}
		if s := c.ScoreCandidate(progress, candidates[i]); s > bestScore {
			best, bestScore = &candidates[i], s
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}

// ScoreCandidate sums the independent contributions that make an item
// worth practicing now.
func (c *Calculator) ScoreCandidate(progress domain.UserProgress, item domain.Item) float64 {
	unit := progress.Unit(item.Unit)

	score := (1 - unit.Mastery) * c.cfg.MasteryPoints
	if unit.HasWeakTopic(item.Topic) {
		score += c.cfg.WeakTopicPoints
	}
	score += math.Max(0, c.cfg.PracticePoints-float64(item.PracticeCount)*c.cfg.PracticeDecay)
	score += (1 - item.SuccessRate) * c.cfg.SuccessPoints

	if item.LastPracticed == nil {
		score += c.cfg.RecencyPoints
	} else {
		days := c.now().Sub(*item.LastPracticed).Hours() / 24
		score += math.Max(0, math.Min(days, c.cfg.RecencyPoints))
	}
	return score
}

// TopicPerformance summarizes attempts over a set of items.
type TopicPerformance struct {
	TotalAttempts int      `json:"totalAttempts"`
	Accuracy      float64  `json:"accuracy"`
	AverageTime   float64  `json:"averageTime"`
	MasteryLevel  float64  `json:"masteryLevel"`
	WeakPoints    []string `json:"weakPoints"`
	StrongPoints  []string `json:"strongPoints"`
}

// AnalyzeTopicPerformance reports accuracy, time and mastery over items.
// Weak and strong points are item ids, listed in item order.
func (c *Calculator) AnalyzeTopicPerformance(items []domain.Item, attempts []domain.AttemptEvent) TopicPerformance {
	byItem := make(map[string][]domain.AttemptEvent, len(items))
	for _, it := range items {
		byItem[it.ID] = nil
	}

	perf := TopicPerformance{WeakPoints: []string{}, StrongPoints: []string{}}
	var correct int
	var totalTime float64
	for _, a := range attempts {
		if _, ok := byItem[a.ItemID]; !ok {
			continue
		}
		byItem[a.ItemID] = append(byItem[a.ItemID], a)
		perf.TotalAttempts++
		totalTime += a.TimeSpentSeconds
		if a.Correct {
			correct++
		}
	}
	if perf.TotalAttempts == 0 {
		return perf
	}
	perf.Accuracy = float64(correct) / float64(perf.TotalAttempts)
	perf.AverageTime = totalTime / float64(perf.TotalAttempts)

	var weighted float64
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true

		itemAttempts := byItem[it.ID]
		if len(itemAttempts) == 0 {
			continue
		}
		acc := accuracyOf(itemAttempts)
		weight := math.Min(1, float64(len(itemAttempts))/float64(c.cfg.FullWeightAfter))
		weighted += acc * weight

		if len(itemAttempts) < c.cfg.MinItemAttempts {
			continue
		}
		switch {
		case acc < c.cfg.WeakItemAccuracy:
			perf.WeakPoints = append(perf.WeakPoints, it.ID)
		case acc >= c.cfg.StrongAccuracy:
			perf.StrongPoints = append(perf.StrongPoints, it.ID)
		}
	}
	perf.MasteryLevel = weighted / float64(len(seen))
	return perf
}

// TierRange is an inclusive band of tiers.
type TierRange struct {
	Min domain.Tier `json:"min"`
	Max domain.Tier `json:"max"`
}

// GetPersonalizedDifficultyTargets bands each unit by mastery. High
// performers keep the medium..hard band so they stay challenged.
func (c *Calculator) GetPersonalizedDifficultyTargets(progress domain.UserProgress) map[string]TierRange {
	targets := make(map[string]TierRange, len(progress.Units))
	for name, unit := range progress.Units {
		switch {
		case unit.Mastery < c.cfg.BeginnerMastery:
			targets[name] = TierRange{Min: domain.TierEasy, Max: domain.TierEasy}
		case unit.Mastery < c.cfg.DevelopMastery:
			targets[name] = TierRange{Min: domain.TierEasy, Max: domain.TierMedium}
		default:
			targets[name] = TierRange{Min: domain.TierMedium, Max: domain.TierHard}
		}
	}
	return targets
}

// attemptsFor returns the item's attempts, oldest first.
func attemptsFor(itemID string, history []domain.AttemptEvent) []domain.AttemptEvent {
	var out []domain.AttemptEvent
	for _, a := range history {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AttemptedAt.Before(out[j].AttemptedAt)
	})
	return out
}

func accuracyOf(attempts []domain.AttemptEvent) float64 {
	if len(attempts) == 0 {
		return 0
	}
	var correct int
	for _, a := range attempts {
		if a.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(attempts))
}

func averageHints(attempts []domain.AttemptEvent) float64 {
	if len(attempts) == 0 {
		return 0
	}
	var total int
	for _, a := range attempts {
		total += a.HintsUsed
	}
	return float64(total) / float64(len(attempts))
}
