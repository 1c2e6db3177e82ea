package users

import (
	"time"
)

// User is the persisted record for a registered player. The best score only
// moves through PromoteBestScore and registration; it never decreases.
type User struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:20;not null"`
	DisplayName  string    `gorm:"column:display_name;size:60;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:120;not null"`
	BestScore    float64   `gorm:"column:best_score;not null;default:0"`
	BestScoreAt  string    `gorm:"column:best_score_at;size:40;not null;default:''"`
	PendingScore float64   `gorm:"column:pending_score;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user records.
func (User) TableName() string {
	return "users"
}

// HasPlayed reports whether the user has ever completed a scored round.
func (u User) HasPlayed() bool {
	return u.BestScore != 0
}
