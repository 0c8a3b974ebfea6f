package practice

import (
	"context"
	"fmt"
	"sort"

	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

// Progress returns the learner's current snapshot.
func (s *Service) Progress(ctx context.Context, userID string) (domain.UserProgress, error) {
	if err := validateUser(userID); err != nil {
		return domain.UserProgress{}, err
	}
	return s.store.LoadProgress(ctx, userID, s.capacitySince())
}

// UnitReport pairs a unit's stored progress with the analysis behind it.
type UnitReport struct {
	Progress    domain.UnitProgress         `json:"progress"`
	Performance difficulty.TopicPerformance `json:"performance"`
}

// ItemReport is the tier advice for one practiced item.
type ItemReport struct {
	ItemID          string                `json:"itemId"`
	Attempts        int                   `json:"attempts"`
	RecommendedTier domain.Tier           `json:"recommendedDifficulty"`
	Adjustment      difficulty.Adjustment `json:"adjustment"`
}

// RescoreResult is returned by Rescore.
type RescoreResult struct {
	Units []UnitReport `json:"units"`
	Items []ItemReport `json:"items"`
}

// Rescore recomputes unit mastery and weak topics from the attempt log,
// stores them, and reports tier advice for every practiced item. A topic
// is weak when its accuracy is below the weak-item accuracy with at least
// the minimum number of attempts.
func (s *Service) Rescore(ctx context.Context, userID string) (RescoreResult, error) {
	if err := validateUser(userID); err != nil {
		return RescoreResult{}, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	items, err := s.store.ItemsForUser(ctx, userID)
	if err != nil {
		return RescoreResult{}, fmt.Errorf("load items: %w", err)
	}
	attempts, err := s.store.AttemptsForUser(ctx, userID)
	if err != nil {
		return RescoreResult{}, fmt.Errorf("load attempts: %w", err)
	}

	cfg := s.calc.Config()
	now := s.now()
	byUnit := groupBy(items, func(it domain.Item) string { return it.Unit })

	result := RescoreResult{Units: []UnitReport{}, Items: []ItemReport{}}
	units := make([]domain.UnitProgress, 0, len(byUnit))
	for _, unit := range sortedKeys(byUnit) {
		perf := s.calc.AnalyzeTopicPerformance(byUnit[unit], attempts)
		if perf.TotalAttempts == 0 {
			continue
		}

		weak := []string{}
		byTopic := groupBy(byUnit[unit], func(it domain.Item) string { return it.Topic })
		for _, topic := range sortedKeys(byTopic) {
			tp := s.calc.AnalyzeTopicPerformance(byTopic[topic], attempts)
			if tp.TotalAttempts >= cfg.MinItemAttempts && tp.Accuracy < cfg.WeakItemAccuracy {
				weak = append(weak, topic)
			}
		}

		up := domain.UnitProgress{
			Unit:       unit,
			Mastery:    perf.MasteryLevel,
			WeakTopics: weak,
			UpdatedAt:  now,
		}
		units = append(units, up)
		result.Units = append(result.Units, UnitReport{Progress: up, Performance: perf})
	}

	if err := s.store.SaveUnitProgress(ctx, userID, units); err != nil {
		return RescoreResult{}, fmt.Errorf("save unit progress: %w", err)
	}

	byItem := make(map[string][]domain.AttemptEvent)
	for _, a := range attempts {
		byItem[a.ItemID] = append(byItem[a.ItemID], a)
	}
	for _, it := range items {
		history := byItem[it.ID]
		if len(history) == 0 {
			continue
		}
		accuracy, avgTime, avgHints := summarize(history)
		result.Items = append(result.Items, ItemReport{
			ItemID:          it.ID,
			Attempts:        len(history),
			RecommendedTier: s.calc.CalculateDifficulty(it, history),
			Adjustment:      s.calc.AdjustDifficultyBasedOnPerformance(it, accuracy, avgTime, avgHints),
		})
	}

	s.log.Info("progress rescored", "user", userID, "units", len(units), "items", len(result.Items))
	return result, nil
}

// PlanDay builds today's review plan. BalanceTools reorders it towards the
// configured calculator ratio.
func (s *Service) PlanDay(ctx context.Context, userID string, opts queue.PlanOptions) (queue.DailySchedule, error) {
	if err := validateUser(userID); err != nil {
		return queue.DailySchedule{}, err
	}
	progress, items, err := s.snapshot(ctx, userID)
	if err != nil {
		return queue.DailySchedule{}, err
	}
	plan, err := s.builder.PlanDay(items, progress, opts)
	if err := s.partial(userID, err); err != nil {
		return queue.DailySchedule{}, err
	}
	return plan, nil
}

// Forecast spreads the learner's cards over the next days. days outside
// 1..90 is a validation error; 0 means the configured default.
func (s *Service) Forecast(ctx context.Context, userID string, days int) (queue.WeeklySchedule, error) {
	if err := validateUser(userID); err != nil {
		return queue.WeeklySchedule{}, err
	}
	if days == 0 {
		days = s.builder.Config().ForecastDays
	}
	if days < 1 || days > 90 {
		return queue.WeeklySchedule{}, domain.NewValidationError("days", "must be between 1 and 90")
	}

	progress, items, err := s.snapshot(ctx, userID)
	if err != nil {
		return queue.WeeklySchedule{}, err
	}
	reviews, err := s.builder.Enrich(progress.Cards, items)
	if err := s.partial(userID, err); err != nil {
		return queue.WeeklySchedule{}, err
	}
	return s.builder.DistributeReviews(reviews, days), nil
}

// Recommend picks the single best item to practice next.
func (s *Service) Recommend(ctx context.Context, userID string, filters difficulty.Filters) (domain.Item, error) {
	if err := validateUser(userID); err != nil {
		return domain.Item{}, err
	}
	if filters.MaxTier != 0 && !filters.MaxTier.Valid() {
		return domain.Item{}, domain.NewValidationError("max", "must be easy, medium or hard")
	}
	progress, items, err := s.snapshot(ctx, userID)
	if err != nil {
		return domain.Item{}, err
	}
	best := s.calc.RecommendNextProblem(progress, items, filters)
	if best == nil {
		return domain.Item{}, fmt.Errorf("no item matches the filters: %w", domain.ErrItemNotFound)
	}
	return *best, nil
}

// CardView is a card with its derived statistics.
type CardView struct {
	Card  domain.ReviewCard `json:"card"`
	Stats sm2.CardStats     `json:"stats"`
}

// CardStats returns the learner's card for an item.
func (s *Service) CardStats(ctx context.Context, userID, itemID string) (CardView, error) {
	if err := validateUser(userID); err != nil {
		return CardView{}, err
	}
	card, err := s.store.FindCard(ctx, userID, itemID)
	if err != nil {
		return CardView{}, err
	}
	return CardView{Card: card, Stats: s.sched.GetCardStats(card)}, nil
}

// Targets returns the tier band per unit.
func (s *Service) Targets(ctx context.Context, userID string) (map[string]difficulty.TierRange, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	progress, err := s.store.LoadProgress(ctx, userID, s.capacitySince())
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return s.calc.GetPersonalizedDifficultyTargets(progress), nil
}

func summarize(history []domain.AttemptEvent) (accuracy, avgTime, avgHints float64) {
	var correct, hints int
	var spent float64
	for _, a := range history {
		if a.Correct {
			correct++
		}
		spent += a.TimeSpentSeconds
		hints += a.HintsUsed
	}
	n := float64(len(history))
	return float64(correct) / n, spent / n, float64(hints) / n
}

func groupBy(items []domain.Item, key func(domain.Item) string) map[string][]domain.Item {
	out := make(map[string][]domain.Item)
	for _, it := range items {
		k := key(it)
		out[k] = append(out[k], it)
	}
	return out
}

func sortedKeys(m map[string][]domain.Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
