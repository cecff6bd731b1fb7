package database

import (
	"context"
	"testing"
	"time"

	"totpgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const ns = "totpgate.test"

func TestAccountRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("find existing", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "email", Value: "a@b.com"},
			{Key: "password_hash", Value: "$argon2id$..."},
			{Key: "otp_secret", Value: "SECRET"},
		}))

		acct, err := NewAccountRepository(mt.Coll).FindByIdentifier(context.Background(), "a@b.com")
		require.NoError(mt, err)
		assert.Equal(mt, id, acct.ID)
		assert.Equal(mt, "SECRET", acct.OTPSecret)
	})

	mt.Run("find missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := NewAccountRepository(mt.Coll).FindByIdentifier(context.Background(), "x@y.com")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("create", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		acct := &models.Account{Email: "a@b.com"}
		require.NoError(mt, NewAccountRepository(mt.Coll).Create(context.Background(), acct))
		assert.False(mt, acct.ID.IsZero())
	})

	mt.Run("create duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		err := NewAccountRepository(mt.Coll).Create(context.Background(), &models.Account{Email: "a@b.com"})
		assert.ErrorIs(mt, err, ErrConflict)
	})

	mt.Run("driver error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
			Name:    "BadValue",
		}))

		_, err := NewAccountRepository(mt.Coll).FindByIdentifier(context.Background(), "a@b.com")
		require.Error(mt, err)
		assert.NotErrorIs(mt, err, ErrNotFound)
	})
}

func challengeDoc(id string, attempts int, consumed bool, expiresAt time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "account_id", Value: primitive.NewObjectID()},
		{Key: "identifier", Value: "a@b.com"},
		{Key: "attempts", Value: attempts},
		{Key: "consumed", Value: consumed},
		{Key: "expires_at", Value: expiresAt},
	}
}

func TestChallengeRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	expires := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond)

	mt.Run("create and find", func(mt *mtest.T) {
		repo := NewChallengeRepository(mt.Coll, mt.Coll)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, challengeDoc("c1", 0, false, expires)),
		)

		require.NoError(mt, repo.CreateChallenge(context.Background(), &models.Challenge{ID: "c1", ExpiresAt: expires}))
		c, err := repo.FindChallenge(context.Background(), "c1")
		require.NoError(mt, err)
		assert.Equal(mt, "c1", c.ID)
		assert.False(mt, c.Consumed)
		assert.True(mt, expires.Equal(c.ExpiresAt))
	})

	mt.Run("find missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := NewChallengeRepository(mt.Coll, mt.Coll).FindChallenge(context.Background(), "nope")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("consume wins", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: challengeDoc("c1", 0, false, expires)},
		))

		err := NewChallengeRepository(mt.Coll, mt.Coll).ConsumeChallenge(context.Background(), "c1", time.Now())
		assert.NoError(mt, err)
	})

	mt.Run("consume loses", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		err := NewChallengeRepository(mt.Coll, mt.Coll).ConsumeChallenge(context.Background(), "c1", time.Now())
		assert.ErrorIs(mt, err, ErrConflict)
	})

	mt.Run("failure below limit", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: challengeDoc("c1", 1, false, expires)},
		))

		burned, err := NewChallengeRepository(mt.Coll, mt.Coll).RecordFailure(context.Background(), "c1", 5, time.Now())
		require.NoError(mt, err)
		assert.False(mt, burned)
	})

	mt.Run("failure reaching limit burns", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: challengeDoc("c1", 5, false, expires)}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		burnAt := time.Date(2026, 1, 1, 12, 3, 0, 0, time.UTC)
		burned, err := NewChallengeRepository(mt.Coll, mt.Coll).RecordFailure(context.Background(), "c1", 5, burnAt)
		require.NoError(mt, err)
		assert.True(mt, burned)

		mt.GetStartedEvent() // findAndModify
		update := mt.GetStartedEvent()
		require.NotNil(mt, update)
		require.Equal(mt, "update", update.CommandName)
		consumedAt := update.Command.Lookup("updates", "0", "u", "$set", "consumed_at").Time()
		assert.True(mt, burnAt.Equal(consumedAt), "consumed_at = %v", consumedAt)
	})

	mt.Run("claim code", func(mt *mtest.T) {
		repo := NewChallengeRepository(mt.Coll, mt.Coll)
		acct := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key error"}),
		)

		require.NoError(mt, repo.ClaimCode(context.Background(), acct, 42, expires))
		assert.ErrorIs(mt, repo.ClaimCode(context.Background(), acct, 42, expires), ErrConflict)
	})
}
