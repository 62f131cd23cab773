package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"patient-assistant/internal/docstore"
	"patient-assistant/internal/model"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileService keeps one profile document per user in user_profiles.
type ProfileService struct {
	docs   docstore.Store
	logger *zap.Logger
}

func NewProfileService(docs docstore.Store, logger *zap.Logger) *ProfileService {
	return &ProfileService{docs: docs, logger: logger}
}

func (s *ProfileService) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	docs, err := s.docs.QueryWhere(ctx, model.UserProfilesCollection, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("query profile failed: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrProfileNotFound
	}
	latest := docs[len(docs)-1]
	return model.UserProfileFromFields(latest.Fields), nil
}

// Save replaces the user's profile. The new document is written before the
// old ones are removed, so a failure never leaves the user without one.
func (s *ProfileService) Save(ctx context.Context, profile *model.UserProfile) error {
	if profile == nil || strings.TrimSpace(profile.UserID) == "" {
		return ErrInvalidInput
	}
	if err := validateProfile(profile); err != nil {
		return err
	}

	previous, err := s.docs.QueryWhere(ctx, model.UserProfilesCollection, "user_id", profile.UserID)
	if err != nil {
		return fmt.Errorf("query profile failed: %w", err)
	}
	if _, err := s.docs.Append(ctx, model.UserProfilesCollection, profile.Fields()); err != nil {
		return fmt.Errorf("save profile failed: %w", err)
	}
	for _, doc := range previous {
		if err := s.docs.Delete(ctx, model.UserProfilesCollection, doc.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			s.logger.Warn("remove stale profile failed", zap.String("user_id", profile.UserID), zap.Error(err))
		}
	}
	return nil
}

func validateProfile(p *model.UserProfile) error {
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return fmt.Errorf("%w: age out of range", ErrInvalidInput)
	}
	if p.HeightCentimeters != nil && (*p.HeightCentimeters <= 0 || *p.HeightCentimeters > 300) {
		return fmt.Errorf("%w: height out of range", ErrInvalidInput)
	}
	if p.WeightKilograms != nil && (*p.WeightKilograms <= 0 || *p.WeightKilograms > 500) {
		return fmt.Errorf("%w: weight out of range", ErrInvalidInput)
	}
	return nil
}
