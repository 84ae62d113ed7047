package domain

import "context"

// ProfileRepository defines persistence for the local Profile store.
// Find methods return ErrProfileNotFound on a miss.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (*Profile, error)
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	FindByDocument(ctx context.Context, document string) (*Profile, error)
	FindBySubjectID(ctx context.Context, subjectID string) (*Profile, error)
	FindAll(ctx context.Context) ([]*Profile, error)

	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByDocument(ctx context.Context, document string) (bool, error)
	ExistsBySubjectID(ctx context.Context, subjectID string) (bool, error)

	// Save inserts the profile when its ID is empty and replaces it otherwise.
	Save(ctx context.Context, profile *Profile) error
	DeleteByID(ctx context.Context, id string) error
}
