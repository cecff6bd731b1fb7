package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"totpgate/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChallengeRepository keeps pending second-factor challenges and the replay
// guard of accepted TOTP steps in MongoDB.
type ChallengeRepository struct {
	challenges *mongo.Collection
	usedCodes  *mongo.Collection
}

// NewChallengeRepository returns a repository over the two collections.
func NewChallengeRepository(challenges, usedCodes *mongo.Collection) *ChallengeRepository {
	return &ChallengeRepository{challenges: challenges, usedCodes: usedCodes}
}

// ChallengeCollections returns the challenges and used_codes collections of db.
func ChallengeCollections(db *mongo.Database) (*mongo.Collection, *mongo.Collection) {
	return db.Collection(challengesCollection), db.Collection(usedCodesCollection)
}

// CreateChallenge persists c. c.ID must be set.
func (r *ChallengeRepository) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.challenges.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("error inserting challenge: %w", err)
	}
	return nil
}

// FindChallenge returns the challenge for id, or ErrNotFound.
func (r *ChallengeRepository) FindChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c models.Challenge
	if err := r.challenges.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving challenge: %w", err)
	}
	return &c, nil
}

// RecordFailure counts a wrong code against the challenge. Once maxAttempts is
// reached the challenge is marked consumed at now and burned is true.
func (r *ChallengeRepository) RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c models.Challenge
	err := r.challenges.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "consumed": false},
		bson.M{"$inc": bson.M{"attempts": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return true, nil
		}
		return false, fmt.Errorf("error recording failed attempt: %w", err)
	}
	if c.Attempts < maxAttempts {
		return false, nil
	}
	if _, err := r.challenges.UpdateOne(ctx,
		bson.M{"_id": id, "consumed": false},
		bson.M{"$set": bson.M{"consumed": true, "consumed_at": now}},
	); err != nil {
		return false, fmt.Errorf("error burning challenge: %w", err)
	}
	return true, nil
}

// ConsumeChallenge flips the challenge to consumed if it is still open at now.
// Exactly one caller wins; the rest get ErrConflict.
func (r *ChallengeRepository) ConsumeChallenge(ctx context.Context, id string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c models.Challenge
	err := r.challenges.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "consumed": false, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"consumed": true, "consumed_at": now}},
	).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrConflict
		}
		return fmt.Errorf("error consuming challenge: %w", err)
	}
	return nil
}

// ClaimCode records that step was accepted for accountID. A second claim of the
// same step yields ErrConflict.
func (r *ChallengeRepository) ClaimCode(ctx context.Context, accountID primitive.ObjectID, step int64, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	used := models.UsedCode{
		ID:        models.UsedCodeID(accountID, step),
		AccountID: accountID,
		Step:      step,
		ExpiresAt: expiresAt,
	}
	if _, err := r.usedCodes.InsertOne(ctx, used); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("error recording used code: %w", err)
	}
	return nil
}
