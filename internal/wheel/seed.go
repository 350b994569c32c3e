package wheel

import (
	"context"
	"encoding/json"
	"fmt"
)

// SeedContent populates one challenge and one quiz per goal when the content
// tables are empty. Real deployments author content through their own
// tooling; this keeps a fresh database spinnable.
func (s *Service) SeedContent(ctx context.Context) error {
	var challengeCount int64
	if err := s.db.WithContext(ctx).Model(&Challenge{}).Count(&challengeCount).Error; err != nil {
		return err
	}
	var quizCount int64
	if err := s.db.WithContext(ctx).Model(&Quiz{}).Count(&quizCount).Error; err != nil {
		return err
	}
	if challengeCount > 0 || quizCount > 0 {
		return nil
	}

	for _, goal := range s.catalog.All() {
		challengeID, err := s.ids.NewID()
		if err != nil {
			return err
		}
		challenge := Challenge{
			ID:          challengeID,
			GoalID:      goal.ID,
			Description: fmt.Sprintf("Complete a real-world action for %q and submit photo proof.", goal.Title),
			PointValue:  20,
		}
		if err := s.db.WithContext(ctx).Create(&challenge).Error; err != nil {
			return err
		}

		quizID, err := s.ids.NewID()
		if err != nil {
			return err
		}
		choices, err := json.Marshal([]string{
			fmt.Sprintf("It relates to %q", goal.Title),
			"It is unrelated to sustainability",
			"It only applies to governments",
			"It expired in 2015",
		})
		if err != nil {
			return err
		}
		quiz := Quiz{
			ID:           quizID,
			GoalID:       goal.ID,
			Question:     fmt.Sprintf("Which statement best describes goal %d?", goal.ID),
			ChoicesJSON:  string(choices),
			CorrectIndex: 0,
			PointValue:   10,
		}
		if err := s.db.WithContext(ctx).Create(&quiz).Error; err != nil {
			return err
		}
	}

	s.logger.Info("seeded default wheel content")
	return nil
}
