package auth

import "errors"

// Sentinel errors for the login flow. The API maps every verification failure
// to one generic response; the distinctions below are for logs only.
var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrInvalidOTP               = errors.New("invalid one-time code")
	ErrChallengeExpired         = errors.New("challenge expired")
	ErrChallengeAlreadyConsumed = errors.New("challenge already consumed")

	ErrAccountExists = errors.New("account already exists")
	ErrInvalidEmail  = errors.New("invalid email format")
	ErrWeakPassword  = errors.New("password too short")
	ErrInvalidToken  = errors.New("invalid session token")
)
