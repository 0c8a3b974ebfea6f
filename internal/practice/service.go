// Package practice is the calling layer around the scheduling engine. It
// validates input at the boundary, serializes writes per learner and moves
// state between the store and the pure sm2, difficulty and queue packages.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/domain"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

// Store is the persistence the service needs. *storage.DB implements it.
type Store interface {
	FindItem(ctx context.Context, id string) (domain.Item, error)
	ItemsForUser(ctx context.Context, userID string) ([]domain.Item, error)
	FindCard(ctx context.Context, userID, itemID string) (domain.ReviewCard, error)
	SaveReview(ctx context.Context, userID string, card domain.ReviewCard, attempt domain.AttemptEvent, quality int) error
	SaveCards(ctx context.Context, userID string, cards []domain.ReviewCard) error
	AttemptsForUser(ctx context.Context, userID string) ([]domain.AttemptEvent, error)
	InsertSession(ctx context.Context, userID string, s domain.PracticeSession) error
	SaveUnitProgress(ctx context.Context, userID string, units []domain.UnitProgress) error
	LoadProgress(ctx context.Context, userID string, sessionsSince time.Time) (domain.UserProgress, error)
}

// Service implements the practice use cases.
type Service struct {
	store    Store
	sched    *sm2.Scheduler
	calc     *difficulty.Calculator
	builder  *queue.Builder
	validate *validator.Validate
	log      *slog.Logger
	newID    func() string

	mu    sync.Mutex
	locks map[string]*userLock
}

// userLock is a per-learner mutex shared by refs callers. It is removed
// from the map when the last of them unlocks.
type userLock struct {
	sync.Mutex
	refs int
}

// Option customizes a Service.
type Option func(*Service)

// WithIDGenerator replaces the attempt and session id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService wires the engine modules to a store. All three modules should
// share the scheduler's clock.
func NewService(log *slog.Logger, store Store, sched *sm2.Scheduler, calc *difficulty.Calculator, builder *queue.Builder, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	s := &Service{
		store:    store,
		sched:    sched,
		calc:     calc,
		builder:  builder,
		validate: v,
		log:      log.With("service", "practice"),
		newID:    uuid.NewString,
		locks:    make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockUser serializes writers for one learner and returns the unlock func.
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.mu.Unlock()
	}
}

// lockedUsers reports how many learners have a lock entry.
func (s *Service) lockedUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Service) now() time.Time { return s.sched.Now() }

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &domain.ValidationError{}
	for _, fe := range verrs {
		ve.Errors = append(ve.Errors, domain.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return ve
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewValidationError("user", "required")
	}
	return nil
}

// capacitySince is the start of the session window the workload sizing
// looks at.
func (s *Service) capacitySince() time.Time {
	return s.now().Add(-s.builder.Config().CapacityWindow)
}

func (s *Service) snapshot(ctx context.Context, userID string) (domain.UserProgress, []domain.Item, error) {
	progress, err := s.store.LoadProgress(ctx, userID, s.capacitySince())
	if err != nil {
		return domain.UserProgress{}, nil, fmt.Errorf("load progress: %w", err)
	}
	items, err := s.store.ItemsForUser(ctx, userID)
	if err != nil {
		return domain.UserProgress{}, nil, fmt.Errorf("load items: %w", err)
	}
	return progress, items, nil
}

// partial logs a missing-metadata error and swallows it; any other error
// is returned unchanged.
func (s *Service) partial(userID string, err error) error {
	var missing *queue.MissingMetadataError
	if errors.As(err, &missing) {
		s.log.Warn("cards without catalog metadata skipped",
			"user", userID,
			"count", len(missing.ItemIDs),
		)
		return nil
	}
	return err
}
