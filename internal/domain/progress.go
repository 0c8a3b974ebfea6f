package domain

import "time"

// UnitProgress is a learner's standing in one unit.
type UnitProgress struct {
	Unit       string    `json:"unit"`
	Mastery    float64   `json:"mastery"`
	WeakTopics []string  `json:"weakTopics"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasWeakTopic reports whether topic is flagged weak for the unit.
func (u UnitProgress) HasWeakTopic(topic string) bool {
	for _, t := range u.WeakTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// PracticeSession is a completed sitting, used to estimate daily capacity.
type PracticeSession struct {
	ID              string    `json:"id,omitempty"`
	StartedAt       time.Time `json:"startedAt" validate:"required"`
	DurationSeconds int       `json:"durationSeconds" validate:"gt=0"`
	ItemsCompleted  int       `json:"itemsCompleted" validate:"gte=0"`
}

// UserProgress is the snapshot of a learner's state the engine works on.
// It is owned by the caller; the engine never mutates it.
type UserProgress struct {
	UserID   string                  `json:"userId"`
	Cards    []ReviewCard            `json:"cards"`
	Units    map[string]UnitProgress `json:"units"`
	Sessions []PracticeSession       `json:"sessions"`
}

// Unit returns the progress for a unit, or the zero value when the
// learner has not been scored in it yet.
func (p UserProgress) Unit(name string) UnitProgress {
	if u, ok := p.Units[name]; ok {
		return u
	}
	return UnitProgress{Unit: name}
}
