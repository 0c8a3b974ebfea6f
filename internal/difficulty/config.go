package difficulty

// Config holds the thresholds and weights of the difficulty calculator.
type Config struct {
	MinAttempts      int     `koanf:"min_attempts" validate:"gte=1"`
	RecentWindow     int     `koanf:"recent_window" validate:"gte=1"`
	TrendBand        float64 `koanf:"trend_band" validate:"gte=0"`
	AccuracyWeight   float64 `koanf:"accuracy_weight"`
	HintPenalty      float64 `koanf:"hint_penalty"`
	TrendWeight      float64 `koanf:"trend_weight"`
	EasyBelow        float64 `koanf:"easy_below"`
	MediumBelow      float64 `koanf:"medium_below"`
	HighAccuracy     float64 `koanf:"high_accuracy" validate:"gte=0,lte=1"`
	LowAccuracy      float64 `koanf:"low_accuracy" validate:"gte=0,lte=1"`
	FastTimeRatio    float64 `koanf:"fast_time_ratio" validate:"gt=0"`
	SlowTimeRatio    float64 `koanf:"slow_time_ratio" validate:"gt=0"`
	ManyHints        float64 `koanf:"many_hints" validate:"gt=0"`
	AdjustThreshold  float64 `koanf:"adjust_threshold" validate:"gt=0"`
	MasteryPoints    float64 `koanf:"mastery_points"`
	WeakTopicPoints  float64 `koanf:"weak_topic_points"`
	PracticePoints   float64 `koanf:"practice_points"`
	PracticeDecay    float64 `koanf:"practice_decay"`
	SuccessPoints    float64 `koanf:"success_points"`
	RecencyPoints    float64 `koanf:"recency_points"`
	WeakItemAccuracy float64 `koanf:"weak_item_accuracy" validate:"gte=0,lte=1"`
	StrongAccuracy   float64 `koanf:"strong_accuracy" validate:"gte=0,lte=1"`
	MinItemAttempts  int     `koanf:"min_item_attempts" validate:"gte=1"`
	FullWeightAfter  int     `koanf:"full_weight_after" validate:"gte=1"`
	BeginnerMastery  float64 `koanf:"beginner_mastery" validate:"gte=0,lte=1"`
	DevelopMastery   float64 `koanf:"develop_mastery" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the calculator's standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinAttempts:      3,
		RecentWindow:     5,
		TrendBand:        0.1,
		AccuracyWeight:   2,
		HintPenalty:      0.2,
		TrendWeight:      0.3,
		EasyBelow:        1.5,
		MediumBelow:      2.5,
		HighAccuracy:     0.85,
		LowAccuracy:      0.5,
		FastTimeRatio:    0.8,
		SlowTimeRatio:    1.5,
		ManyHints:        2,
		AdjustThreshold:  1.5,
		MasteryPoints:    30,
		WeakTopicPoints:  25,
		PracticePoints:   20,
		PracticeDecay:    2,
		SuccessPoints:    15,
		RecencyPoints:    10,
		WeakItemAccuracy: 0.6,
		StrongAccuracy:   0.85,
		MinItemAttempts:  2,
		FullWeightAfter:  5,
		BeginnerMastery:  0.3,
		DevelopMastery:   0.6,
	}
}
