package queue

import (
	"math"

	"github.com/conorfennell/mathdrill/internal/domain"
)

// CalculateOptimalReviewCount sizes today's queue from the base target,
// the learner's recent capacity and the size of the backlog. The result is
// always within [MinReviews, MaxReviews].
func (b *Builder) CalculateOptimalReviewCount(progress domain.UserProgress, dueCount int) int {
	target := b.cfg.BaseDailyTarget

	if capacity := b.recentCapacity(progress.Sessions); capacity > 0 && capacity < target {
		target = capacity
	}
	if float64(dueCount) > float64(target)*b.cfg.BacklogFactor {
		target = min(int(math.Round(float64(target)*b.cfg.BacklogBoost)), b.cfg.MaxReviews)
	}
	if dueCount < target {
		target = max(dueCount, b.cfg.MinReviews)
	}
	return max(b.cfg.MinReviews, min(target, b.cfg.MaxReviews))
}

// recentCapacity estimates how many items the learner gets through on an
// active day, from sessions inside the capacity window.
func (b *Builder) recentCapacity(sessions []domain.PracticeSession) int {
	now := b.sched.Now()
	since := now.Add(-b.cfg.CapacityWindow)

	perDay := make(map[string]int)
	for _, s := range sessions {
		if s.StartedAt.Before(since) || s.StartedAt.After(now) || s.DurationSeconds <= 0 {
			continue
		}
		perDay[s.StartedAt.In(now.Location()).Format("2006-01-02")] += s.DurationSeconds
	}
	if len(perDay) == 0 {
		return 0
	}

	var total int
	for _, secs := range perDay {
		total += secs
	}
	avg := float64(total) / float64(len(perDay))
	return int(avg / b.cfg.SecondsPerItem)
}

// BalanceCalculatorMix reorders reviews so tool-required items make up
// about ToolRatio of every prefix. Relative order inside each pool is kept;
// once a pool runs dry the other fills the rest.
func (b *Builder) BalanceCalculatorMix(reviews []PrioritizedReview) []PrioritizedReview {
	var tool, free []PrioritizedReview
	for _, r := range reviews {
		if r.Item.ToolRequired {
			tool = append(tool, r)
		} else {
			free = append(free, r)
		}
	}

	out := make([]PrioritizedReview, 0, len(reviews))
	var toolCount int
	for len(tool) > 0 || len(free) > 0 {
		wantTool := float64(toolCount+1) <= b.cfg.ToolRatio*float64(len(out)+1)+1e-9
		if (wantTool && len(tool) > 0) || len(free) == 0 {
			out = append(out, tool[0])
			tool = tool[1:]
			toolCount++
			continue
		}
		out = append(out, free[0])
		free = free[1:]
	}
	return out
}
