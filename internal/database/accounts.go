package database

import (
	"context"
	"errors"
	"fmt"

	"totpgate/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// AccountRepository stores accounts in MongoDB, keyed by their email identifier.
type AccountRepository struct {
	coll *mongo.Collection
}

// NewAccountRepository returns a repository over coll.
func NewAccountRepository(coll *mongo.Collection) *AccountRepository {
	return &AccountRepository{coll: coll}
}

// AccountsCollection returns the accounts collection of db.
func AccountsCollection(db *mongo.Database) *mongo.Collection {
	return db.Collection(accountsCollection)
}

// FindByIdentifier returns the account for identifier, or ErrNotFound.
func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var account models.Account
	err := r.coll.FindOne(ctx, bson.M{"email": identifier}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving account: %w", err)
	}
	return &account, nil
}

// Create inserts account and fills in its ID. A taken identifier yields ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if account.ID.IsZero() {
		account.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("error inserting account: %w", err)
	}
	return nil
}
