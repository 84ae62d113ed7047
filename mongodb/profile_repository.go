package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/idbridge/domain"
)

// ProfileRepository stores local user profiles in MongoDB.
type ProfileRepository struct {
	profiles *mongo.Collection
}

var _ domain.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository creates the repository and ensures its indexes.
func NewProfileRepository(ctx context.Context, db *mongo.Database) (*ProfileRepository, error) {
	repo := &ProfileRepository{profiles: db.Collection(ProfilesCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *ProfileRepository) createIndexes(ctx context.Context) error {
	// Document and subject id are unique only when present; profiles created
	// from a social login start without either.
	existsString := bson.D{{Key: "$type", Value: "string"}, {Key: "$gt", Value: ""}}

	_, err := r.profiles.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "document", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "document", Value: existsString}}),
		},
		{
			Keys: bson.D{{Key: "subject_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "subject_id", Value: existsString}}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create profile indexes: %w", err)
	}
	return nil
}

func (r *ProfileRepository) findOne(ctx context.Context, filter bson.M) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.profiles.FindOne(ctx, filter).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *ProfileRepository) FindByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *ProfileRepository) FindByDocument(ctx context.Context, document string) (*domain.Profile, error) {
	return r.findOne(ctx, bson.M{"document": document})
}

func (r *ProfileRepository) FindBySubjectID(ctx context.Context, subjectID string) (*domain.Profile, error) {
	return r.findOne(ctx, bson.M{"subject_id": subjectID})
}

func (r *ProfileRepository) FindAll(ctx context.Context) ([]*domain.Profile, error) {
	cursor, err := r.profiles.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var profiles []*domain.Profile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *ProfileRepository) exists(ctx context.Context, filter bson.M) (bool, error) {
	count, err := r.profiles.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ProfileRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, bson.M{"email": email})
}

func (r *ProfileRepository) ExistsByDocument(ctx context.Context, document string) (bool, error) {
	return r.exists(ctx, bson.M{"document": document})
}

func (r *ProfileRepository) ExistsBySubjectID(ctx context.Context, subjectID string) (bool, error) {
	return r.exists(ctx, bson.M{"subject_id": subjectID})
}

// Save inserts the profile when it has no id yet, otherwise replaces the
// stored record. Timestamps are maintained here.
func (r *ProfileRepository) Save(ctx context.Context, profile *domain.Profile) error {
	now := time.Now().UTC()
	profile.UpdatedAt = now

	if profile.ID == "" {
		profile.ID = uuid.NewString()
		profile.CreatedAt = now
		if _, err := r.profiles.InsertOne(ctx, profile); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.ErrEmailTaken
			}
			return err
		}
		return nil
	}

	_, err := r.profiles.ReplaceOne(ctx, bson.M{"_id": profile.ID}, profile, options.Replace().SetUpsert(true))
	return err
}

func (r *ProfileRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.profiles.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}
