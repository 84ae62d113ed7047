package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
)

// ProfileUpdate carries the optional fields of a profile update. Nil means
// "leave unchanged".
type ProfileUpdate struct {
	Name      *string    `json:"name,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Document  *string    `json:"document,omitempty"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
}

// ProfileService is the plain CRUD surface over the local profile store,
// used by the management endpoints. Identity-aware mutations (enrichment,
// deletion with directory cleanup) live on IdentityService.
type ProfileService struct {
	profiles domain.ProfileRepository
}

func NewProfileService(profiles domain.ProfileRepository) *ProfileService {
	return &ProfileService{profiles: profiles}
}

func (s *ProfileService) List(ctx context.Context) ([]*domain.Profile, error) {
	return s.profiles.FindAll(ctx)
}

func (s *ProfileService) Get(ctx context.Context, id string) (*domain.Profile, error) {
	return s.profiles.FindByID(ctx, id)
}

func (s *ProfileService) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return s.profiles.FindByEmail(ctx, email)
}

func (s *ProfileService) GetBySubjectID(ctx context.Context, subjectID string) (*domain.Profile, error) {
	return s.profiles.FindBySubjectID(ctx, subjectID)
}

// Create inserts a profile record directly, for administrative imports. The
// usual entry points are registration and social login.
func (s *ProfileService) Create(ctx context.Context, profile *domain.Profile) (*domain.Profile, error) {
	taken, err := s.profiles.ExistsByEmail(ctx, profile.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrEmailTaken
	}

	if profile.Document != "" {
		taken, err = s.profiles.ExistsByDocument(ctx, profile.Document)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.ErrDocumentTaken
		}
	}

	if profile.SubjectID != "" {
		taken, err = s.profiles.ExistsBySubjectID(ctx, profile.SubjectID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.ErrSubjectTaken
		}
	}

	profile.ID = ""
	if err := s.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}
	log.Info().Str("profile_id", profile.ID).Str("email", profile.Email).Msg("Profile created")
	return profile, nil
}

// Update applies the non-nil fields. Email and document changes are checked
// for uniqueness before being applied.
func (s *ProfileService) Update(ctx context.Context, id string, update ProfileUpdate) (*domain.Profile, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Email != nil && *update.Email != profile.Email {
		taken, err := s.profiles.ExistsByEmail(ctx, *update.Email)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.ErrEmailTaken
		}
		profile.Email = *update.Email
	}

	if update.Document != nil && *update.Document != profile.Document {
		taken, err := s.profiles.ExistsByDocument(ctx, *update.Document)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.ErrDocumentTaken
		}
		profile.Document = *update.Document
	}

	if update.Name != nil {
		profile.Name = *update.Name
	}
	if update.BirthDate != nil {
		profile.BirthDate = update.BirthDate
	}

	if err := s.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}
	log.Info().Str("profile_id", id).Msg("Profile updated")
	return profile, nil
}
