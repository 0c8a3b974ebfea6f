package queue

import "time"

// Config holds the weights and limits of the queue builder.
type Config struct {
	OverduePoints      float64 `koanf:"overdue_points"`
	OverdueHorizonDays float64 `koanf:"overdue_horizon_days" validate:"gt=0"`
	WeaknessPoints     float64 `koanf:"weakness_points"`
	WeaknessStreak     float64 `koanf:"weakness_streak" validate:"gt=0"`
	VarietyPoints      float64 `koanf:"variety_points"`
	RecencyPoints      float64 `koanf:"recency_points"`
	RecencyHorizonDays float64 `koanf:"recency_horizon_days" validate:"gt=0"`
	LearningBonus      float64 `koanf:"learning_bonus"`
	DecliningBonus     float64 `koanf:"declining_bonus"`

	MaxTopicStreak   int     `koanf:"max_topic_streak" validate:"gte=1"`
	MaxUnitStreak    int     `koanf:"max_unit_streak" validate:"gte=1"`
	TopicSwitchBonus float64 `koanf:"topic_switch_bonus"`
	UnitSwitchBonus  float64 `koanf:"unit_switch_bonus"`

	BaseDailyTarget int           `koanf:"base_daily_target" validate:"gte=1"`
	MinReviews      int           `koanf:"min_reviews" validate:"gte=1"`
	MaxReviews      int           `koanf:"max_reviews" validate:"gtefield=MinReviews"`
	SecondsPerItem  float64       `koanf:"seconds_per_item" validate:"gt=0"`
	BacklogFactor   float64       `koanf:"backlog_factor" validate:"gt=0"`
	BacklogBoost    float64       `koanf:"backlog_boost" validate:"gt=0"`
	CapacityWindow  time.Duration `koanf:"capacity_window" validate:"gt=0"`

	ToolRatio          float64 `koanf:"tool_ratio" validate:"gte=0,lte=1"`
	DefaultItemSeconds int     `koanf:"default_item_seconds" validate:"gt=0"`
	ForecastDays       int     `koanf:"forecast_days" validate:"gte=1"`
}

// DefaultConfig returns the builder's standard weights.
func DefaultConfig() Config {
	return Config{
		OverduePoints:      35,
		OverdueHorizonDays: 7,
		WeaknessPoints:     25,
		WeaknessStreak:     5,
		VarietyPoints:      10,
		RecencyPoints:      20,
		RecencyHorizonDays: 30,
		LearningBonus:      5,
		DecliningBonus:     10,

		MaxTopicStreak:   3,
		MaxUnitStreak:    5,
		TopicSwitchBonus: 5,
		UnitSwitchBonus:  3,

		BaseDailyTarget: 20,
		MinReviews:      10,
		MaxReviews:      50,
		SecondsPerItem:  30,
		BacklogFactor:   1.5,
		BacklogBoost:    1.3,
		CapacityWindow:  7 * 24 * time.Hour,

		ToolRatio:          0.4,
		DefaultItemSeconds: 60,
		ForecastDays:       7,
	}
}
