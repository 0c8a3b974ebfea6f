package queue

import (
	"math"
	"time"

	"github.com/conorfennell/mathdrill/internal/domain"
)

// ReviewStats summarizes a set of reviews.
type ReviewStats struct {
	Total            int            `json:"total"`
	Overdue          int            `json:"overdue"`
	Weak             int            `json:"weak"`
	ByUnit           map[string]int `json:"byUnit"`
	ByTopic          map[string]int `json:"byTopic"`
	EstimatedMinutes int            `json:"estimatedMinutes"`
	ToolRequired     int            `json:"toolRequired"`
	ToolFree         int            `json:"toolFree"`
}

// GetReviewStats counts reviews by state, unit, topic and tool use.
func (b *Builder) GetReviewStats(reviews []PrioritizedReview) ReviewStats {
	stats := ReviewStats{
		Total:   len(reviews),
		ByUnit:  make(map[string]int),
		ByTopic: make(map[string]int),
	}
	var seconds int
	for _, r := range reviews {
		if r.Stats.IsOverdue {
			stats.Overdue++
		}
		if isWeak(r) {
			stats.Weak++
		}
		stats.ByUnit[r.Item.Unit]++
		stats.ByTopic[r.Item.Topic]++
		if r.Item.ToolRequired {
			stats.ToolRequired++
		} else {
			stats.ToolFree++
		}
		seconds += b.itemSeconds(r.Item)
	}
	stats.EstimatedMinutes = minutes(seconds)
	return stats
}

// DaySchedule is one bucket of a WeeklySchedule.
type DaySchedule struct {
	Date             time.Time `json:"date"`
	Total            int       `json:"total"`
	EstimatedMinutes int       `json:"estimatedMinutes"`
	Overdue          int       `json:"overdue"`
	Weak             int       `json:"weak"`
	Normal           int       `json:"normal"`
	ItemIDs          []string  `json:"itemIds"`
}

// WeeklySchedule forecasts reviews over a horizon of days starting today.
type WeeklySchedule struct {
	Start         time.Time     `json:"start"`
	Days          []DaySchedule `json:"days"`
	TotalReviews  int           `json:"totalReviews"`
	TotalMinutes  int           `json:"totalMinutes"`
	AveragePerDay float64       `json:"averagePerDay"`
	PeakDay       time.Time     `json:"peakDay"`
	LightestDay   time.Time     `json:"lightestDay"`
}

// DistributeReviews buckets reviews by their scheduled date. Anything
// already due lands on today; anything past the horizon is left out.
func (b *Builder) DistributeReviews(reviews []PrioritizedReview, daysAhead int) WeeklySchedule {
	if daysAhead <= 0 {
		daysAhead = b.cfg.ForecastDays
	}
	now := b.sched.Now()
	start := startOfDay(now)

	sched := WeeklySchedule{Start: start, Days: make([]DaySchedule, daysAhead)}
	seconds := make([]int, daysAhead)
	for i := range sched.Days {
		sched.Days[i] = DaySchedule{Date: start.AddDate(0, 0, i), ItemIDs: []string{}}
	}

	for _, r := range reviews {
		idx := daysBetween(start, startOfDay(r.Card.NextReview.In(now.Location())))
		if idx < 0 {
			idx = 0
		}
		if idx >= daysAhead {
			continue
		}
		d := &sched.Days[idx]
		d.Total++
		d.ItemIDs = append(d.ItemIDs, r.Card.ItemID)
		switch {
		case r.Stats.IsOverdue:
			d.Overdue++
		case isWeak(r):
			d.Weak++
		default:
			d.Normal++
		}
		seconds[idx] += b.itemSeconds(r.Item)
	}

	peak, light := 0, 0
	for i := range sched.Days {
		sched.Days[i].EstimatedMinutes = minutes(seconds[i])
		sched.TotalReviews += sched.Days[i].Total
		sched.TotalMinutes += sched.Days[i].EstimatedMinutes
		if sched.Days[i].Total > sched.Days[peak].Total {
			peak = i
		}
		if sched.Days[i].Total < sched.Days[light].Total {
			light = i
		}
	}
	sched.PeakDay = sched.Days[peak].Date
	sched.LightestDay = sched.Days[light].Date
	sched.AveragePerDay = float64(sched.TotalReviews) / float64(daysAhead)
	return sched
}

// DailySchedule is the plan handed to the learner for today.
type DailySchedule struct {
	Date             time.Time           `json:"date"`
	DueCount         int                 `json:"dueCount"`
	RecommendedCount int                 `json:"recommendedCount"`
	Queue            []string            `json:"queue"`
	Reviews          []PrioritizedReview `json:"reviews"`
	Stats            ReviewStats         `json:"stats"`
}

// PlanOptions tweaks PlanDay.
type PlanOptions struct {
	// BalanceTools reorders the picked queue towards the tool ratio. This
	// takes precedence over the interleaving streak limits.
	BalanceTools bool
}

// PlanDay sizes, builds and summarizes today's queue. Like BuildDailyQueue
// it reports missing metadata while still returning a usable plan.
func (b *Builder) PlanDay(items []domain.Item, progress domain.UserProgress, opts PlanOptions) (DailySchedule, error) {
	dueCount := len(b.sched.GetReviewQueue(progress.Cards))
	count := b.CalculateOptimalReviewCount(progress, dueCount)

	reviews, err := b.buildQueue(items, progress, count)
	if opts.BalanceTools {
		reviews = b.BalanceCalculatorMix(reviews)
	}
	return DailySchedule{
		Date:             startOfDay(b.sched.Now()),
		DueCount:         dueCount,
		RecommendedCount: count,
		Queue:            itemIDs(reviews),
		Reviews:          reviews,
		Stats:            b.GetReviewStats(reviews),
	}, err
}

func isWeak(r PrioritizedReview) bool {
	return r.Card.ConsecutiveIncorrect > 0 || r.Stats.PerformanceTrend == domain.TrendDeclining
}

func (b *Builder) itemSeconds(item domain.Item) int {
	if item.EstimatedTimeSeconds > 0 {
		return item.EstimatedTimeSeconds
	}
	return b.cfg.DefaultItemSeconds
}

func minutes(seconds int) int {
	return int(math.Ceil(float64(seconds) / 60))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, both at midnight.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / day)
}
