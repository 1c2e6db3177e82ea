package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/songarden/square-api/internal/users"
	"go.uber.org/zap"
)

const (
	// RoundSize is the number of games in one finished round.
	RoundSize = 3
	// MaxRoundTotal is the highest possible round total, three perfect games.
	MaxRoundTotal = 300.0

	defaultLeaderboardLimit = 10
)

var (
	// ErrInvalidRound indicates the submitted round failed validation. Nothing
	// is written when it is returned.
	ErrInvalidRound = errors.New("game: invalid round")

	errMissingUserStore = errors.New("game: user store required")
)

// ServiceConfig describes the dependencies of the game service.
type ServiceConfig struct {
	Users *users.Store
	Clock func() time.Time
	// DefaultLimit caps leaderboard queries that do not specify a limit.
	DefaultLimit int
	Logger       *zap.Logger
}

// Service implements score submission, record promotion and leaderboard
// computation over the user store.
type Service struct {
	users        *users.Store
	clock        func() time.Time
	defaultLimit int
	logger       *zap.Logger
}

// NewService constructs the game service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Users == nil {
		return nil, errMissingUserStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:        cfg.Users,
		clock:        clock,
		defaultLimit: limit,
		logger:       logger,
	}, nil
}

// SubmitRound validates a finished round and records its total as the user's
// pending score, returning the total. The previous pending score is
// overwritten; the best score is untouched.
func (s *Service) SubmitRound(ctx context.Context, userID string, rawScores []float64) (float64, error) {
	total, err := RoundTotal(rawScores)
	if err != nil {
		return 0, err
	}
	if err := s.users.SetPendingScore(ctx, userID, total); err != nil {
		return 0, err
	}
	s.logger.Debug("round submitted",
		zap.String("user_id", userID),
		zap.Float64("pending_score", total))
	return total, nil
}

// RoundTotal validates the raw scores of a finished round and returns their
// sum. A round must contain exactly RoundSize finite scores summing to at most
// MaxRoundTotal.
func RoundTotal(rawScores []float64) (float64, error) {
	if len(rawScores) != RoundSize {
		return 0, fmt.Errorf("%w: expected %d scores, got %d", ErrInvalidRound, RoundSize, len(rawScores))
	}
	total := 0.0
	for _, score := range rawScores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return 0, fmt.Errorf("%w: scores must be finite", ErrInvalidRound)
		}
		total += score
	}
	if total > MaxRoundTotal {
		return 0, fmt.Errorf("%w: round total %.2f exceeds %.0f", ErrInvalidRound, total, MaxRoundTotal)
	}
	return total, nil
}

// Promotion reports the outcome of reconciling a pending score against the
// stored best score.
type Promotion struct {
	Promoted     bool    `json:"promoted"`
	BestScore    float64 `json:"best_score"`
	PendingScore float64 `json:"pending_score"`
}

// Promote compares the user's pending score, rounded to two decimal places,
// against the stored best and replaces the best when the pending score is
// higher. The write is a compare-and-set; losing the race to a concurrent
// promotion simply reports the fresher record. Re-running after a promotion is
// a no-op.
func (s *Service) Promote(ctx context.Context, userID string) (Promotion, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Promotion{}, err
	}

	pending := roundToCents(user.PendingScore)
	if pending <= user.BestScore {
		return Promotion{BestScore: user.BestScore, PendingScore: pending}, nil
	}

	promotedAt := s.clock().UTC().Format(time.RFC3339)
	written, err := s.users.PromoteBestScore(ctx, userID, pending, promotedAt, user.BestScore)
	if err != nil {
		return Promotion{}, err
	}
	if !written {
		// lost the compare-and-set; report whatever the winner left behind
		fresh, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return Promotion{}, err
		}
		return Promotion{BestScore: fresh.BestScore, PendingScore: roundToCents(fresh.PendingScore)}, nil
	}

	s.logger.Info("best score promoted",
		zap.String("user_id", userID),
		zap.Float64("best_score", pending))
	return Promotion{Promoted: true, BestScore: pending, PendingScore: pending}, nil
}

// RankingEntry is one row of the computed leaderboard. Rank is 1-based and
// dense over the truncated result.
type RankingEntry struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	BestScore   float64 `json:"best_score"`
	BestScoreAt string  `json:"best_score_at"`
	Rank        int     `json:"rank"`
}

// Leaderboard computes the ranked leaderboard, freshly on every call. Users
// with a zero best score never appear. Ties on best score rank the earlier
// record-holder first; display name breaks exact ties deterministically.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]RankingEntry, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	ranked, err := s.users.ListRanked(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]RankingEntry, 0, len(ranked))
	for index, user := range ranked {
		entries = append(entries, RankingEntry{
			UserID:      user.UserID,
			DisplayName: user.DisplayName,
			BestScore:   user.BestScore,
			BestScoreAt: user.BestScoreAt,
			Rank:        index + 1,
		})
	}
	return entries, nil
}

// PersonalView bundles the user's promotion outcome with the current
// leaderboard.
type PersonalView struct {
	Promotion
	Leaderboard []RankingEntry `json:"leaderboard"`
}

// PersonalView submits the optional raw scores, reconciles the user's pending
// score against the best, then computes the leaderboard. Passing no scores
// covers the lazy path where a previously submitted round is promoted on the
// next ranking view.
func (s *Service) PersonalView(ctx context.Context, userID string, rawScores []float64) (PersonalView, error) {
	if len(rawScores) > 0 {
		if _, err := s.SubmitRound(ctx, userID, rawScores); err != nil {
			return PersonalView{}, err
		}
	}
	promotion, err := s.Promote(ctx, userID)
	if err != nil {
		return PersonalView{}, err
	}
	leaderboard, err := s.Leaderboard(ctx, 0)
	if err != nil {
		return PersonalView{}, err
	}
	return PersonalView{Promotion: promotion, Leaderboard: leaderboard}, nil
}

func roundToCents(value float64) float64 {
	return math.Round(value*100) / 100
}
