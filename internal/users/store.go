package users

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested user record does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrConflict indicates the user id or display name is already taken.
	ErrConflict = errors.New("users: conflict")

	errMissingDatabase = errors.New("users: database handle required")
)

// Store persists user records in the relational database. Score mutations go
// through conditional updates so concurrent writers cannot regress a record.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a user store over the provided database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// FindByID returns the user record for the given identifier.
func (s *Store) FindByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByDisplayName returns the user record owning the given display name.
func (s *Store) FindByDisplayName(ctx context.Context, displayName string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("display_name = ?", displayName).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Create inserts a new user record. It fails with ErrConflict when either the
// user id or the display name is already present; no record is created then.
func (s *Store) Create(ctx context.Context, user User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&User{}).
			Where("user_id = ? OR display_name = ?", user.UserID, user.DisplayName).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrConflict
		}
		return tx.Create(&user).Error
	})
}

// SetPendingScore overwrites the user's pending round total.
func (s *Store) SetPendingScore(ctx context.Context, userID string, score float64) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userID).
		Update("pending_score", score)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PromoteBestScore conditionally replaces the stored best score. The update is
// a compare-and-set on the previously observed best score, so a concurrent
// promotion for the same user loses cleanly instead of regressing the record.
// It reports whether the row was written.
func (s *Store) PromoteBestScore(ctx context.Context, userID string, newBest float64, promotedAt string, expectedBest float64) (bool, error) {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ? AND best_score = ? AND best_score < ?", userID, expectedBest, newBest).
		Updates(map[string]interface{}{
			"best_score":    newBest,
			"best_score_at": promotedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListRanked returns all users that have completed at least one scored round,
// ordered by best score descending, promotion time ascending and display name
// ascending. Display names are unique, so the order is total.
func (s *Store) ListRanked(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("users: ranked list limit must be positive, got %d", limit)
	}
	var ranked []User
	err := s.db.WithContext(ctx).
		Where("best_score <> 0").
		Order("best_score DESC, best_score_at ASC, display_name ASC").
		Limit(limit).
		Find(&ranked).Error
	if err != nil {
		return nil, err
	}
	return ranked, nil
}

// VerifyCredential checks the supplied secret against the stored hash. A
// missing user and a wrong secret are indistinguishable to the caller.
func (s *Store) VerifyCredential(ctx context.Context, userID, secret string) (bool, error) {
	user, err := s.FindByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret))
	return compareErr == nil, nil
}
