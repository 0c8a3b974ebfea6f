package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestBuilder(cfg Config) *Builder {
	sched := sm2.NewScheduler(sm2.DefaultConfig(), sm2.WithClock(func() time.Time { return testNow }))
	return NewBuilder(cfg, sched)
}

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func review(b *Builder, card domain.ReviewCard, item domain.Item) PrioritizedReview {
	item.ID = card.ItemID
	reviews, err := b.Enrich([]domain.ReviewCard{card}, []domain.Item{item})
	if err != nil {
		panic(err)
	}
	return reviews[0]
}

func TestPrioritizeReviews(t *testing.T) {
	b := newTestBuilder(DefaultConfig())

	fresh := review(b, domain.ReviewCard{ItemID: "fresh", EaseFactor: 2.5, NextReview: testNow.Add(-14 * day)}, domain.Item{})
	steady := review(b, domain.ReviewCard{
		ItemID: "steady", EaseFactor: 2.5, Repetitions: 3, Interval: 10,
		ConsecutiveCorrect: 5, NextReview: testNow.Add(-84 * time.Hour), LastReviewed: ago(15 * day),
	}, domain.Item{})
	slipping := review(b, domain.ReviewCard{
		ItemID: "slipping", EaseFactor: 1.5, Interval: 1, ConsecutiveIncorrect: 2,
		NextReview: testNow, LastReviewed: ago(60 * day),
	}, domain.Item{})

	got := b.PrioritizeReviews([]PrioritizedReview{steady, slipping, fresh})
	require.Len(t, got, 3)

	assert.Equal(t, "fresh", got[0].Card.ItemID)
	assert.InDelta(t, 35+25+10+20+5, got[0].Priority, 1e-9)
	assert.Contains(t, got[0].Reasons, "overdue by 14 day(s)")
	assert.Contains(t, got[0].Reasons, "never reviewed")

	assert.Equal(t, "slipping", got[1].Card.ItemID)
	assert.InDelta(t, 0+25+10+20+5+10, got[1].Priority, 1e-9)
	assert.Contains(t, got[1].Reasons, "declining performance")
	assert.Contains(t, got[1].Reasons, "recent mistakes")

	assert.Equal(t, "steady", got[2].Card.ItemID)
	assert.InDelta(t, 15+0+10+10, got[2].Priority, 1e-9)
}

func TestPrioritizeReviewsKeepsOrderOnTies(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	var in []PrioritizedReview
	for _, id := range []string{"a", "b", "c"} {
		in = append(in, review(b, domain.ReviewCard{ItemID: id, NextReview: testNow}, domain.Item{}))
	}
	got := b.PrioritizeReviews(in)
	assert.Equal(t, []string{"a", "b", "c"}, itemIDs(got))
}

func pool(groups ...poolGroup) []PrioritizedReview {
	var out []PrioritizedReview
	for _, s := range groups {
		for i := 0; i < s.n; i++ {
			id := fmt.Sprintf("%s%d", s.prefix, i)
			out = append(out, PrioritizedReview{
				Card:     domain.ReviewCard{ItemID: id},
				Item:     domain.Item{ID: id, Topic: s.topic, Unit: s.unit},
				Priority: s.top - float64(i),
			})
		}
	}
	return out
}

type poolGroup struct {
	prefix, topic, unit string
	n                   int
	top                 float64
}

func assertStreaks(t *testing.T, reviews []PrioritizedReview, maxTopic, maxUnit int) {
	t.Helper()
	topicRun, unitRun := 0, 0
	for i, r := range reviews {
		if i > 0 && r.Item.Topic == reviews[i-1].Item.Topic {
			topicRun++
		} else {
			topicRun = 1
		}
		if i > 0 && r.Item.Unit == reviews[i-1].Item.Unit {
			unitRun++
		} else {
			unitRun = 1
		}
		require.LessOrEqual(t, topicRun, maxTopic, "topic streak at %d", i)
		require.LessOrEqual(t, unitRun, maxUnit, "unit streak at %d", i)
	}
}

func TestApplyInterleavingHonoursStreakLimits(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	in := pool(
		poolGroup{"a", "fractions", "number", 10, 100},
		poolGroup{"b", "decimals", "number", 4, 50},
		poolGroup{"c", "angles", "geometry", 4, 40},
	)

	got := b.ApplyInterleaving(in, len(in))
	require.Len(t, got, len(in))
	assertStreaks(t, got, 3, 5)

	seen := make(map[string]bool)
	for _, r := range got {
		assert.False(t, seen[r.Card.ItemID], "duplicate %s", r.Card.ItemID)
		seen[r.Card.ItemID] = true
	}
	assert.Equal(t, []string{"a0", "a1", "a2", "b0", "a3", "c0"}, itemIDs(got[:6]))
}

func TestApplyInterleavingTruncates(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	in := pool(
		poolGroup{"a", "t1", "u1", 5, 100},
		poolGroup{"b", "t2", "u2", 5, 90},
	)
	got := b.ApplyInterleaving(in, 4)
	assert.Len(t, got, 4)
	assert.Len(t, in, 10, "input must not shrink")

	assert.Len(t, b.ApplyInterleaving(in, 0), 10)
	assert.Len(t, b.ApplyInterleaving(in, 50), 10)
	assert.Empty(t, b.ApplyInterleaving(nil, 5))
}

func TestApplyInterleavingRelaxesWithoutDiversity(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	in := pool(poolGroup{"a", "t1", "u1", 8, 100})
	got := b.ApplyInterleaving(in, 8)
	assert.Equal(t, itemIDs(in), itemIDs(got))
}

func TestBuildDailyQueue(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	items := []domain.Item{
		{ID: "overdue", Unit: "u1", Topic: "t1"},
		{ID: "due", Unit: "u1", Topic: "t2"},
		{ID: "later", Unit: "u2", Topic: "t3"},
	}
	progress := domain.UserProgress{Cards: []domain.ReviewCard{
		{ItemID: "due", EaseFactor: 2.5, Repetitions: 2, Interval: 6, ConsecutiveCorrect: 2, NextReview: testNow, LastReviewed: ago(6 * day)},
		{ItemID: "later", EaseFactor: 2.5, NextReview: testNow.Add(day)},
		{ItemID: "overdue", EaseFactor: 2.5, NextReview: testNow.Add(-10 * day)},
	}}

	ids, err := b.BuildDailyQueue(items, progress, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"overdue", "due"}, ids)

	ids, err = b.BuildDailyQueue(items, progress, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"overdue"}, ids)
}

func TestBuildDailyQueueReportsMissingMetadata(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	items := []domain.Item{{ID: "known", Unit: "u", Topic: "t"}}
	progress := domain.UserProgress{Cards: []domain.ReviewCard{
		{ItemID: "known", NextReview: testNow},
		{ItemID: "ghost", NextReview: testNow},
	}}

	ids, err := b.BuildDailyQueue(items, progress, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrItemNotFound))

	var missing *MissingMetadataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"ghost"}, missing.ItemIDs)
	assert.Equal(t, []string{"known"}, ids)
}

func TestCalculateOptimalReviewCount(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	today := []domain.PracticeSession{{StartedAt: testNow.Add(-time.Hour), DurationSeconds: 360}}
	twoDays := []domain.PracticeSession{
		{StartedAt: testNow.Add(-time.Hour), DurationSeconds: 300},
		{StartedAt: testNow.Add(-2 * time.Hour), DurationSeconds: 300},
		{StartedAt: testNow.Add(-day), DurationSeconds: 600},
	}
	stale := []domain.PracticeSession{{StartedAt: testNow.Add(-30 * day), DurationSeconds: 60}}

	tests := []struct {
		name     string
		sessions []domain.PracticeSession
		due      int
		want     int
	}{
		{name: "base target", due: 25, want: 20},
		{name: "large backlog boosts", due: 100, want: 26},
		{name: "small backlog caps at due", due: 15, want: 15},
		{name: "tiny backlog floors", due: 3, want: 10},
		{name: "nothing due floors", due: 0, want: 10},
		{name: "capacity narrows", sessions: today, due: 15, want: 12},
		{name: "capacity with backlog", sessions: today, due: 40, want: 16},
		{name: "capacity averaged per day", sessions: twoDays, due: 25, want: 20},
		{name: "stale sessions ignored", sessions: stale, due: 25, want: 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.CalculateOptimalReviewCount(domain.UserProgress{Sessions: tt.sessions}, tt.due)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateOptimalReviewCountStaysInBounds(t *testing.T) {
	cfgs := []Config{DefaultConfig(), DefaultConfig()}
	cfgs[1].BaseDailyTarget = 45

	sessions := [][]domain.PracticeSession{
		nil,
		{{StartedAt: testNow.Add(-time.Hour), DurationSeconds: 30}},
		{{StartedAt: testNow.Add(-time.Hour), DurationSeconds: 100000}},
	}
	for _, cfg := range cfgs {
		b := newTestBuilder(cfg)
		for _, s := range sessions {
			for due := 0; due <= 500; due += 7 {
				got := b.CalculateOptimalReviewCount(domain.UserProgress{Sessions: s}, due)
				require.GreaterOrEqual(t, got, 10)
				require.LessOrEqual(t, got, 50)
			}
		}
	}

	b := newTestBuilder(cfgs[1])
	assert.Equal(t, 50, b.CalculateOptimalReviewCount(domain.UserProgress{}, 1000))
}

func TestBalanceCalculatorMix(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	var in []PrioritizedReview
	for i := 0; i < 5; i++ {
		in = append(in, PrioritizedReview{Card: domain.ReviewCard{ItemID: fmt.Sprintf("tool%d", i)}, Item: domain.Item{ToolRequired: true}})
	}
	for i := 0; i < 5; i++ {
		in = append(in, PrioritizedReview{Card: domain.ReviewCard{ItemID: fmt.Sprintf("free%d", i)}})
	}

	got := b.BalanceCalculatorMix(in)
	assert.Equal(t, []string{
		"free0", "free1", "tool0", "free2", "tool1",
		"free3", "free4", "tool2", "tool3", "tool4",
	}, itemIDs(got))

	onlyTool := b.BalanceCalculatorMix(in[:3])
	assert.Equal(t, []string{"tool0", "tool1", "tool2"}, itemIDs(onlyTool))
	assert.Empty(t, b.BalanceCalculatorMix(nil))
}

func TestGetReviewStats(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	reviews := []PrioritizedReview{
		review(b, domain.ReviewCard{ItemID: "a", NextReview: testNow.Add(-2 * day), ConsecutiveIncorrect: 1},
			domain.Item{Unit: "number", Topic: "fractions", EstimatedTimeSeconds: 90, ToolRequired: true}),
		review(b, domain.ReviewCard{ItemID: "b", NextReview: testNow},
			domain.Item{Unit: "number", Topic: "decimals", EstimatedTimeSeconds: 45}),
		review(b, domain.ReviewCard{ItemID: "c", NextReview: testNow.Add(-time.Hour), ConsecutiveIncorrect: 2},
			domain.Item{Unit: "geometry", Topic: "angles"}),
	}

	stats := b.GetReviewStats(reviews)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Overdue)
	assert.Equal(t, 2, stats.Weak)
	assert.Equal(t, map[string]int{"number": 2, "geometry": 1}, stats.ByUnit)
	assert.Equal(t, map[string]int{"fractions": 1, "decimals": 1, "angles": 1}, stats.ByTopic)
	assert.Equal(t, 4, stats.EstimatedMinutes, "90+45+60 seconds rounds up")
	assert.Equal(t, 1, stats.ToolRequired)
	assert.Equal(t, 2, stats.ToolFree)
}

func TestDistributeReviews(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	cards := []domain.ReviewCard{
		{ItemID: "overdue", NextReview: testNow.Add(-2 * day)},
		{ItemID: "tonight", NextReview: testNow.Add(3 * time.Hour), ConsecutiveIncorrect: 1},
		{ItemID: "tomorrow", NextReview: testNow.Add(day)},
		{ItemID: "later", NextReview: testNow.Add(3 * day)},
		{ItemID: "far", NextReview: testNow.Add(10 * day)},
	}
	items := []domain.Item{
		{ID: "overdue", EstimatedTimeSeconds: 120},
		{ID: "tonight", EstimatedTimeSeconds: 30},
		{ID: "tomorrow"},
		{ID: "later"},
		{ID: "far"},
	}
	reviews, err := b.Enrich(cards, items)
	require.NoError(t, err)

	week := b.DistributeReviews(reviews, 7)
	require.Len(t, week.Days, 7)
	today := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, today, week.Start)

	d0 := week.Days[0]
	assert.Equal(t, today, d0.Date)
	assert.Equal(t, 2, d0.Total)
	assert.Equal(t, 1, d0.Overdue)
	assert.Equal(t, 1, d0.Weak)
	assert.Zero(t, d0.Normal)
	assert.Equal(t, 3, d0.EstimatedMinutes)
	assert.ElementsMatch(t, []string{"overdue", "tonight"}, d0.ItemIDs)

	assert.Equal(t, 1, week.Days[1].Normal)
	assert.Equal(t, []string{"later"}, week.Days[3].ItemIDs)
	assert.Equal(t, 4, week.TotalReviews)
	assert.Equal(t, 5, week.TotalMinutes)
	assert.InDelta(t, 4.0/7.0, week.AveragePerDay, 1e-9)
	assert.Equal(t, today, week.PeakDay)
	assert.Equal(t, today.AddDate(0, 0, 2), week.LightestDay)

	assert.Len(t, b.DistributeReviews(reviews, 0).Days, 7, "defaults to the forecast horizon")
}

func TestPlanDay(t *testing.T) {
	b := newTestBuilder(DefaultConfig())
	var items []domain.Item
	var cards []domain.ReviewCard
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("item%02d", i)
		items = append(items, domain.Item{
			ID:           id,
			Unit:         fmt.Sprintf("unit%d", i%3),
			Topic:        fmt.Sprintf("topic%d", i%5),
			ToolRequired: i%2 == 0,
		})
		cards = append(cards, domain.ReviewCard{ItemID: id, EaseFactor: 2.5, NextReview: testNow.Add(-time.Duration(i) * time.Hour)})
	}
	progress := domain.UserProgress{Cards: cards}

	plan, err := b.PlanDay(items, progress, PlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 30, plan.DueCount)
	assert.Equal(t, 20, plan.RecommendedCount)
	assert.Len(t, plan.Queue, 20)
	assert.Equal(t, 20, plan.Stats.Total)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), plan.Date)
	assertStreaks(t, plan.Reviews, 3, 5)

	balanced, err := b.PlanDay(items, progress, PlanOptions{BalanceTools: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, plan.Queue, balanced.Queue)
	assert.False(t, balanced.Reviews[0].Item.ToolRequired)
	assert.False(t, balanced.Reviews[1].Item.ToolRequired)
}
