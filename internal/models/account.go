package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account represents an enrolled user. The login flow only reads it.
type Account struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	OTPSecret    string             `bson:"otp_secret" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
