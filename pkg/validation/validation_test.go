package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	valid := []string{"a@b.co", "user.name+tag@example.com", "x@sub.domain.org"}
	invalid := []string{"", "plain", "a@b", "a b@c.d", "@b.c", "a@.c", "a@@b.c"}

	for _, e := range valid {
		assert.Empty(t, ValidateEmail(e), e)
	}
	for _, e := range invalid {
		assert.NotEmpty(t, ValidateEmail(e), e)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		env      string
		want     string
	}{
		{"dev ok", "abc123", "development", ""},
		{"dev too short", "ab12", "development", "Password must be at least 6 characters"},
		{"prod too short", "abc123", "production", "Password must be at least 8 characters"},
		{"prod ok", "abcd1234", "production", ""},
		{"no letter", "12345678", "production", "Password must contain a letter"},
		{"no digit", "abcdefgh", "production", "Password must contain a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidatePassword(tt.password, tt.env))
		})
	}
}

func TestValidatePost(t *testing.T) {
	assert.NotEmpty(t, ValidatePost(""))
	assert.NotEmpty(t, ValidatePost("   "))
	assert.NotEmpty(t, ValidatePost(strings.Repeat("a", 1001)))
	assert.Empty(t, ValidatePost("hello"))
	assert.Empty(t, ValidatePost(strings.Repeat("a", 1000)))
}

func TestValidatePost_CountsSanitizedLength(t *testing.T) {
	// 200 "<" become 200 "&lt;" (800 chars) and still fit
	assert.Empty(t, ValidatePost(strings.Repeat("<", 200)))
	// 250 "<" become 1000 chars, 251 do not
	assert.Empty(t, ValidatePost(strings.Repeat("<", 250)))
	assert.NotEmpty(t, ValidatePost(strings.Repeat("<", 251)))
}

func TestValidatePost_DoesNotMutate(t *testing.T) {
	text := "  <b>hi</b>  "
	ValidatePost(text)
	assert.Equal(t, "  <b>hi</b>  ", text)
}

func TestValidateDisplayName(t *testing.T) {
	assert.Empty(t, ValidateDisplayName("Ada"))
	assert.NotEmpty(t, ValidateDisplayName("   "))
	assert.NotEmpty(t, ValidateDisplayName(strings.Repeat("x", 101)))
}

func TestValidateForm(t *testing.T) {
	res := ValidateForm(Fields{
		Email:       "bad",
		Password:    "short",
		DisplayName: "  ",
		Post:        "ok",
	}, "development")

	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "email")
	assert.Contains(t, res.Errors, "password")
	assert.Contains(t, res.Errors, "displayName")
	assert.NotContains(t, res.Errors, "post")
}

func TestValidateForm_SkipsEmptyFields(t *testing.T) {
	res := ValidateForm(Fields{Email: "a@b.co"}, "production")
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestValidator_StructTag(t *testing.T) {
	type req struct {
		Email string `validate:"required,account_email"`
	}
	assert.NoError(t, Validator().Struct(req{Email: "a@b.co"}))
	assert.Error(t, Validator().Struct(req{Email: "nope"}))
}
