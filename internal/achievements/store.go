package achievements

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("achievements: database handle required")

// Grant is the permanent, append-only record that a user satisfied a rule.
// At most one grant ever exists per (achievement_id, user_id) pair; the
// composite unique index enforces that at the storage boundary.
type Grant struct {
	ID            string    `gorm:"column:id;primaryKey;size:36;not null"`
	AchievementID string    `gorm:"column:achievement_id;size:60;not null;uniqueIndex:idx_achievement_grants_pair"`
	UserID        string    `gorm:"column:user_id;size:20;not null;uniqueIndex:idx_achievement_grants_pair"`
	GrantedAt     time.Time `gorm:"column:granted_at;not null"`
}

// TableName exposes the table backing achievement grants.
func (Grant) TableName() string {
	return "achievement_grants"
}

// GrantStore persists achievement grants.
type GrantStore struct {
	db *gorm.DB
}

// NewGrantStore constructs a grant store over the provided database handle.
func NewGrantStore(db *gorm.DB) (*GrantStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GrantStore{db: db}, nil
}

// HasGrant reports whether the rule was already granted to the user.
func (s *GrantStore) HasGrant(ctx context.Context, achievementID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Grant{}).
		Where("achievement_id = ? AND user_id = ?", achievementID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertIfAbsent appends the grant unless the (achievement_id, user_id) pair
// already exists. The conflict target makes concurrent duplicate evaluations
// race on the index rather than on a read-then-write. It reports whether the
// row landed.
func (s *GrantStore) InsertIfAbsent(ctx context.Context, grant Grant) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "achievement_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&grant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByUser returns every grant held by the user, oldest first.
func (s *GrantStore) ListByUser(ctx context.Context, userID string) ([]Grant, error) {
	var grants []Grant
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}
