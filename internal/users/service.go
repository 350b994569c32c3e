package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("users: invalid user id")
	// ErrUserNotFound indicates the profile does not exist.
	ErrUserNotFound = errors.New("users: user not found")

	errMissingDatabase = errors.New("users: database connection required")
)

// LevelRule derives a level from an accumulated point total. The concrete
// progression curve is owned by the scoring collaborator; the default is a
// simple placeholder used when none is injected.
type LevelRule func(totalPoints int) int

// DefaultLevelRule levels up every 100 points, starting at level 1.
func DefaultLevelRule(totalPoints int) int {
	if totalPoints < 0 {
		totalPoints = 0
	}
	return totalPoints/100 + 1
}

// ServiceConfig describes the dependencies for the user profile service.
type ServiceConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	LevelRule LevelRule
}

// Service manages user profiles, point totals and spin bookkeeping.
type Service struct {
	db        *gorm.DB
	now       func() time.Time
	levelRule LevelRule
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	rule := cfg.LevelRule
	if rule == nil {
		rule = DefaultLevelRule
	}
	return &Service{db: cfg.Database, now: clock, levelRule: rule}, nil
}

// Ensure returns the profile for the identifier, creating it when unseen.
func (s *Service) Ensure(ctx context.Context, userID string) (User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return User{}, ErrInvalidUserID
	}

	user := User{ID: trimmed, Level: s.levelRule(0)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error
	if err != nil {
		return User{}, err
	}
	return s.Get(ctx, trimmed)
}

// Get fetches a profile by identifier.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// AwardPoints adds delta to the total and recomputes the level.
func (s *Service) AwardPoints(ctx context.Context, userID string, delta int) (User, error) {
	if delta < 0 {
		return User{}, fmt.Errorf("users: negative point award %d", delta)
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.TotalPoints += delta
	user.Level = s.levelRule(user.TotalPoints)
	err = s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"total_points": user.TotalPoints,
			"level":        user.Level,
		}).Error
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// RecordSpin stamps the moment of the user's latest wheel spin.
func (s *Service) RecordSpin(ctx context.Context, userID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Update("last_spin_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
