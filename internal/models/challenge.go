package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Challenge is the pending second factor of a login whose password already matched.
// It grants nothing until a valid code consumes it.
type Challenge struct {
	ID         string             `bson:"_id"`
	AccountID  primitive.ObjectID `bson:"account_id"`
	Identifier string             `bson:"identifier"`
	Attempts   int                `bson:"attempts"`
	Consumed   bool               `bson:"consumed"`
	ConsumedAt time.Time          `bson:"consumed_at,omitempty"`
	ExpiresAt  time.Time          `bson:"expires_at"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// Expired reports whether the challenge deadline has passed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// UsedCode records a TOTP time step already accepted for an account.
type UsedCode struct {
	ID        string             `bson:"_id"`
	AccountID primitive.ObjectID `bson:"account_id"`
	Step      int64              `bson:"step"`
	ExpiresAt time.Time          `bson:"expires_at"`
}

// UsedCodeID is the primary key of a UsedCode.
func UsedCodeID(accountID primitive.ObjectID, step int64) string {
	return fmt.Sprintf("%s:%d", accountID.Hex(), step)
}
