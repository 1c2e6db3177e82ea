package achievements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errMissingGrantStore = errors.New("achievements: grant store required")

// Award is the payload handed back to the client when a rule is granted.
type Award struct {
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
}

// EngineConfig describes the dependencies of the achievement engine.
type EngineConfig struct {
	Store  *GrantStore
	Clock  func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// Engine evaluates the fixed rule set against submitted rounds and grants
// each rule at most once per user.
type Engine struct {
	store  *GrantStore
	rules  []Rule
	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
}

// NewEngine constructs the achievement engine over the fixed rule set.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingGrantStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  cfg.Store,
		rules:  Rules,
		clock:  clock,
		newID:  newID,
		logger: logger,
	}, nil
}

// Evaluate walks the rule set in priority order and grants the first satisfied
// rule the user does not hold yet. Already-granted matches fall through to the
// next rule; when nothing is left to grant it returns nil. The insert is
// conditional on the store's uniqueness constraint, so a concurrent duplicate
// evaluation for the same user and rule yields exactly one grant.
func (e *Engine) Evaluate(ctx context.Context, userID string, rawScores []float64) (*Award, error) {
	if len(rawScores) == 0 {
		return nil, nil
	}

	round := NewRound(rawScores)
	for _, rule := range e.rules {
		if !rule.Match(round) {
			continue
		}
		granted, err := e.store.HasGrant(ctx, rule.ID, userID)
		if err != nil {
			return nil, err
		}
		if granted {
			continue
		}
		inserted, err := e.store.InsertIfAbsent(ctx, Grant{
			ID:            e.newID(),
			AchievementID: rule.ID,
			UserID:        userID,
			GrantedAt:     e.clock().UTC(),
		})
		if err != nil {
			return nil, err
		}
		if !inserted {
			// another evaluation beat us to this rule
			continue
		}
		e.logger.Info("achievement granted",
			zap.String("user_id", userID),
			zap.String("achievement_id", rule.ID))
		return &Award{AchievementID: rule.ID, Title: rule.Title, Body: rule.Body}, nil
	}
	return nil, nil
}
