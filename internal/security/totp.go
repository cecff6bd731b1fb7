package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20
)

// TOTP generates per-account secrets and checks submitted codes against them
// (RFC 6238, SHA1, 6 digits, 30 second steps).
type TOTP struct {
	issuer string
	skew   uint
}

// NewTOTP returns a TOTP accepting codes from skew steps on either side of the current one.
func NewTOTP(issuer string, skew uint) *TOTP {
	if strings.TrimSpace(issuer) == "" {
		issuer = "totpgate"
	}
	return &TOTP{issuer: issuer, skew: skew}
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      t.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Digits is the length of a valid code.
func (t *TOTP) Digits() int {
	return otp.DigitsSix.Length()
}

// Period is the length of one time step.
func (t *TOTP) Period() time.Duration {
	return totpPeriod * time.Second
}

// Generate creates a new random secret for accountName.
func (t *TOTP) Generate(accountName string) (*otp.Key, error) {
	if strings.TrimSpace(accountName) == "" {
		return nil, errors.New("account name cannot be empty")
	}
	if strings.Contains(accountName, ":") {
		return nil, errors.New("account name cannot contain a colon character")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// Code returns the code for secret at the given instant.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, t.opts())
}

// Step is the time-step counter containing at.
func (t *TOTP) Step(at time.Time) int64 {
	return at.Unix() / totpPeriod
}

// ValidUntil is the first instant at which a code of step stops matching.
func (t *TOTP) ValidUntil(step int64) time.Time {
	return time.Unix((step+1+int64(t.skew))*totpPeriod, 0).UTC()
}

// Match compares code against every step in the skew window around at and
// returns the step it matched. Comparison is constant time per step.
func (t *TOTP) Match(secret, code string, at time.Time) (int64, bool, error) {
	if strings.TrimSpace(secret) == "" {
		return 0, false, errors.New("secret cannot be empty")
	}
	if len(code) != t.Digits() {
		return 0, false, nil
	}

	var (
		matched int64
		found   bool
	)
	skew := int64(t.skew)
	for offset := -skew; offset <= skew; offset++ {
		when := at.Add(time.Duration(offset) * totpPeriod * time.Second)
		expected, err := t.Code(secret, when)
		if err != nil {
			return 0, false, fmt.Errorf("error generating TOTP code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !found {
			matched, found = t.Step(when), true
		}
	}
	return matched, found, nil
}
