package practice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/sm2"
	"github.com/conorfennell/mathdrill/internal/storage"
)

type fixture struct {
	svc *Service
	db  *storage.DB
	now time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "practice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srcID, err := db.InsertSource(ctx, "/catalog", storage.SourceLocal)
	require.NoError(t, err)
	for _, it := range []domain.Item{
		{ID: "a1", Prompt: "2x = 4", Answer: "2", Unit: "algebra", Topic: "linear", Tier: domain.TierMedium, EstimatedTimeSeconds: 60},
		{ID: "a2", Prompt: "3x = 9", Answer: "3", Unit: "algebra", Topic: "linear", Tier: domain.TierMedium, EstimatedTimeSeconds: 60},
		{ID: "g1", Prompt: "area r=1", Answer: "pi", Unit: "geometry", Topic: "circles", Tier: domain.TierEasy, EstimatedTimeSeconds: 90, ToolRequired: true},
	} {
		require.NoError(t, db.UpsertItem(ctx, it, srcID))
	}

	f := &fixture{db: db, now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := sm2.NewScheduler(sm2.DefaultConfig(), sm2.WithClock(f.clock))
	calc := difficulty.New(difficulty.DefaultConfig(), difficulty.WithClock(f.clock))
	builder := queue.NewBuilder(queue.DefaultConfig(), sched)

	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(logger, db, sched, calc, builder, WithIDGenerator(ids))
	return f
}

func attempt(item string, correct bool, spent float64, hints int) domain.AttemptEvent {
	return domain.AttemptEvent{
		ItemID:              item,
		Correct:             correct,
		TimeSpentSeconds:    spent,
		ExpectedTimeSeconds: 60,
		HintsUsed:           hints,
	}
}

func TestRecordAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.RecordAttempt(ctx, "u1", attempt("a1", true, 30, 0))
	require.NoError(t, err)
	assert.True(t, res.NewCard)
	assert.Equal(t, "id-1", res.Attempt.ID)
	assert.True(t, f.now.Equal(res.Attempt.AttemptedAt))
	assert.Equal(t, sm2.QualityPerfect, res.Quality)
	assert.Equal(t, 1, res.Card.Interval)
	assert.Equal(t, 1, res.Card.Repetitions)
	assert.True(t, f.now.AddDate(0, 0, 1).Equal(res.Card.NextReview))
	assert.Equal(t, domain.MasteryYoung, res.Stats.MasteryLevel)

	res, err = f.svc.RecordAttempt(ctx, "u1", attempt("a1", true, 30, 0))
	require.NoError(t, err)
	assert.False(t, res.NewCard)
	assert.Equal(t, 6, res.Card.Interval)

	view, err := f.svc.CardStats(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Card.Repetitions)
	assert.Equal(t, 2, view.Card.ConsecutiveCorrect)

	attempts, err := f.db.AttemptsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestRecordAttemptValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name  string
		user  string
		event domain.AttemptEvent
		field string
	}{
		{name: "missing user", user: " ", event: attempt("a1", true, 10, 0), field: "user"},
		{name: "missing item", user: "u1", event: attempt("", true, 10, 0), field: "itemId"},
		{name: "negative time", user: "u1", event: attempt("a1", true, -1, 0), field: "timeSpentSeconds"},
		{name: "negative hints", user: "u1", event: attempt("a1", false, 10, -2), field: "hintsUsed"},
		{name: "zero expected time", user: "u1", event: domain.AttemptEvent{ItemID: "a1"}, field: "expectedTimeSeconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordAttempt(ctx, tt.user, tt.event)
			require.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Errors[0].Field)
		})
	}

	_, err := f.svc.RecordAttempt(ctx, "u1", attempt("missing", true, 10, 0))
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	cards, err := f.db.CardsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cards, "rejected attempts leave no trace")
}

func TestRecordAttemptSerializesPerUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordAttempt(ctx, "u1", attempt("a1", true, 30, 0))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	card, err := f.db.FindCard(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, n, card.Repetitions, "no update is lost")
	assert.Zero(t, f.svc.lockedUsers(), "lock entries are released")
}

func TestUserLocksAreReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := range 50 {
		_, err := f.svc.RecordSession(ctx, fmt.Sprintf("visitor-%d", i), domain.PracticeSession{
			StartedAt:       f.now,
			DurationSeconds: 60,
		})
		require.NoError(t, err)
	}
	_, err := f.svc.Rebuild(ctx, "visitor-0")
	require.NoError(t, err)

	assert.Zero(t, f.svc.lockedUsers())
}

func TestRecordAttemptAssignsID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev := attempt("a1", true, 30, 0)
	ev.ID = "client-chosen"
	first, err := f.svc.RecordAttempt(ctx, "u1", ev)
	require.NoError(t, err)
	second, err := f.svc.RecordAttempt(ctx, "u1", ev)
	require.NoError(t, err, "a repeated client id is not a conflict")

	assert.Equal(t, "id-1", first.Attempt.ID)
	assert.Equal(t, "id-2", second.Attempt.ID)

	attempts, err := f.db.AttemptsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestRecordSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.RecordSession(ctx, "u1", domain.PracticeSession{StartedAt: f.now})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.RecordSession(ctx, "u1", domain.PracticeSession{DurationSeconds: 60})
	assert.ErrorIs(t, err, domain.ErrValidation)

	s, err := f.svc.RecordSession(ctx, "u1", domain.PracticeSession{
		StartedAt:       f.now.Add(-time.Hour),
		DurationSeconds: 600,
		ItemsCompleted:  12,
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", s.ID)

	p, err := f.svc.Progress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, p.Sessions, 1)
	assert.Equal(t, 600, p.Sessions[0].DurationSeconds)
}

func TestRescore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, ev := range []domain.AttemptEvent{
		attempt("a1", false, 120, 2),
		attempt("a1", false, 120, 2),
		attempt("a2", true, 30, 0),
		attempt("a2", true, 30, 0),
		attempt("g1", true, 30, 0),
	} {
		_, err := f.svc.RecordAttempt(ctx, "u1", ev)
		require.NoError(t, err)
	}

	res, err := f.svc.Rescore(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, res.Units, 2)
	algebra := res.Units[0]
	assert.Equal(t, "algebra", algebra.Progress.Unit)
	assert.InDelta(t, 0.2, algebra.Progress.Mastery, 1e-9)
	assert.Equal(t, []string{"linear"}, algebra.Progress.WeakTopics)
	assert.Equal(t, 4, algebra.Performance.TotalAttempts)

	geometry := res.Units[1]
	assert.Equal(t, "geometry", geometry.Progress.Unit)
	assert.Empty(t, geometry.Progress.WeakTopics, "one attempt is not enough to flag a topic")

	require.Len(t, res.Items, 3)
	a1 := res.Items[0]
	assert.Equal(t, "a1", a1.ItemID)
	assert.Equal(t, domain.TierMedium, a1.RecommendedTier, "too few attempts keeps the item tier")
	assert.True(t, a1.Adjustment.ShouldAdjust)
	assert.Equal(t, domain.TierEasy, a1.Adjustment.Recommended)

	p, err := f.svc.Progress(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Unit("algebra").HasWeakTopic("linear"))

	targets, err := f.svc.Targets(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, difficulty.TierRange{Min: domain.TierEasy, Max: domain.TierEasy}, targets["algebra"])
}

func TestRescoreAccurateLearner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Enough attempts to judge each topic, but fewer than full weight.
	for _, ev := range []domain.AttemptEvent{
		attempt("g1", true, 30, 0),
		attempt("g1", true, 30, 0),
		attempt("a1", true, 30, 0),
		attempt("a1", true, 30, 0),
		attempt("a1", true, 30, 0),
		attempt("a1", true, 30, 0),
	} {
		_, err := f.svc.RecordAttempt(ctx, "u1", ev)
		require.NoError(t, err)
	}

	res, err := f.svc.Rescore(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, res.Units, 2)
	for _, u := range res.Units {
		assert.InDelta(t, 1.0, u.Performance.Accuracy, 1e-9, u.Progress.Unit)
		assert.Less(t, u.Progress.Mastery, 1.0, u.Progress.Unit)
		assert.Empty(t, u.Progress.WeakTopics, u.Progress.Unit)
	}

	p, err := f.svc.Progress(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.Unit("algebra").HasWeakTopic("linear"))
	assert.False(t, p.Unit("geometry").HasWeakTopic("circles"))
}

func TestPlanDayAndForecast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, id := range []string{"a1", "a2", "g1"} {
		_, err := f.svc.RecordAttempt(ctx, "u1", attempt(id, true, 30, 0))
		require.NoError(t, err)
	}

	plan, err := f.svc.PlanDay(ctx, "u1", queue.PlanOptions{})
	require.NoError(t, err)
	assert.Zero(t, plan.DueCount, "every card was just reviewed")
	assert.Empty(t, plan.Queue)

	forecast, err := f.svc.Forecast(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, forecast.Days, 7)
	assert.Equal(t, 3, forecast.Days[1].Total)
	assert.Equal(t, 3, forecast.TotalReviews)

	_, err = f.svc.Forecast(ctx, "u1", 91)
	assert.ErrorIs(t, err, domain.ErrValidation)

	f.now = f.now.AddDate(0, 0, 2)
	plan, err = f.svc.PlanDay(ctx, "u1", queue.PlanOptions{BalanceTools: true})
	require.NoError(t, err)
	assert.Equal(t, 3, plan.DueCount)
	assert.Equal(t, queue.DefaultConfig().MinReviews, plan.RecommendedCount)
	assert.ElementsMatch(t, []string{"a1", "a2", "g1"}, plan.Queue)
}

func TestRecommend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	item, err := f.svc.Recommend(ctx, "u1", difficulty.Filters{Unit: "geometry"})
	require.NoError(t, err)
	assert.Equal(t, "g1", item.ID)

	_, err = f.svc.Recommend(ctx, "u1", difficulty.Filters{Unit: "calculus"})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = f.svc.Recommend(ctx, "u1", difficulty.Filters{MaxTier: 7})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCardStatsMissingCard(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CardStats(context.Background(), "u1", "a1")
	assert.ErrorIs(t, err, domain.ErrCardNotFound)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, ev := range []domain.AttemptEvent{
		attempt("a1", true, 30, 0),
		attempt("a1", true, 30, 0),
		attempt("g1", false, 30, 0),
	} {
		_, err := f.svc.RecordAttempt(ctx, "u1", ev)
		require.NoError(t, err)
	}

	cards, err := f.svc.Rebuild(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "a1", cards[0].ItemID)
	assert.Equal(t, 6, cards[0].Interval)
	assert.Equal(t, 1, cards[1].ConsecutiveIncorrect)

	stored, err := f.db.FindCard(ctx, "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Repetitions)
}
