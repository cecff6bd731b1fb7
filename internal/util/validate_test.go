package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8"`
	Code     string `json:"code,omitempty" validate:"omitempty,number,len=6"`
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		in   signup
		want string
	}{
		{"valid", signup{Email: "a@b.com", Password: "long-enough"}, ""},
		{"valid with code", signup{Email: "a@b.com", Password: "long-enough", Code: "012345"}, ""},
		{"missing email", signup{Password: "long-enough"}, "field 'email' is required"},
		{"bad email", signup{Email: "no-at-sign.com", Password: "long-enough"}, "field 'email' must be a valid email address"},
		{"display name", signup{Email: "Name <a@b.com>", Password: "long-enough"}, "field 'email' must be a valid email address"},
		{"short password", signup{Email: "a@b.com", Password: "short"}, "field 'password' must be at least 8 characters long"},
		{"letters in code", signup{Email: "a@b.com", Password: "long-enough", Code: "12a456"}, "field 'code' must contain only digits"},
		{"short code", signup{Email: "a@b.com", Password: "long-enough", Code: "12345"}, "field 'code' must be exactly 6 characters long"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.in)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
		})
	}
}

func TestValidate_NotAStruct(t *testing.T) {
	assert.Error(t, Validate(nil))
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("first.last+tag@example.co.uk", "required,email"))
	assert.EqualError(t, ValidateVar("", "required,email"), "value is required")
	assert.EqualError(t, ValidateVar("a@@b.com", "required,email"), "value must be a valid email address")

	assert.NoError(t, ValidateVar("000000", "required,number,len=6"))
	assert.Error(t, ValidateVar("-12345", "required,number,len=6"))
	assert.Error(t, ValidateVar("１２３４５６", "required,number,len=6"))
}

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "a@b.com", NormalizeIdentifier("  A@B.com\n"))
}
