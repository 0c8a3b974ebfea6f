package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the ordered difficulty of a practice item.
type Tier int

const (
	TierEasy Tier = iota + 1
	TierMedium
	TierHard
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t >= TierEasy && t <= TierHard
}

// Clamp forces t into the valid tier range.
func (t Tier) Clamp() Tier {
	switch {
	case t < TierEasy:
		return TierEasy
	case t > TierHard:
		return TierHard
	}
	return t
}

func (t Tier) String() string {
	switch t {
	case TierEasy:
		return "easy"
	case TierMedium:
		return "medium"
	case TierHard:
		return "hard"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier converts a tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "1":
		return TierEasy, nil
	case "medium", "2":
		return TierMedium, nil
	case "hard", "3":
		return TierHard, nil
	}
	return 0, fmt.Errorf("unknown difficulty tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Item is a practice problem from the catalog, together with the
// learner-specific statistics the engine reads.
type Item struct {
	ID                   string     `json:"id"`
	Prompt               string     `json:"prompt,omitempty"`
	Answer               string     `json:"answer,omitempty"`
	Unit                 string     `json:"unit"`
	Topic                string     `json:"topic"`
	Tier                 Tier       `json:"difficulty"`
	EstimatedTimeSeconds int        `json:"estimatedTimeSeconds"`
	ToolRequired         bool       `json:"toolRequired"`
	PracticeCount        int        `json:"practiceCount"`
	SuccessRate          float64    `json:"successRate"`
	LastPracticed        *time.Time `json:"lastPracticed,omitempty"`
}
