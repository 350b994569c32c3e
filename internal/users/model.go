package users

import "time"

// User holds the engagement profile for a participant. TotalPoints is the
// accumulated score; Level is derived from it by the configured LevelRule.
type User struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null"`
	DisplayName string     `gorm:"column:display_name;size:320"`
	TotalPoints int        `gorm:"column:total_points;not null;default:0"`
	Level       int        `gorm:"column:level;not null;default:1"`
	LastSpinAt  *time.Time `gorm:"column:last_spin_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user profiles.
func (User) TableName() string {
	return "users"
}
