package account

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken_StringHidesValue(t *testing.T) {
	tok := Token{UserID: "42", Value: "tok-123"}

	assert.NotContains(t, tok.String(), "tok-123")
	assert.NotContains(t, fmt.Sprintf("%v", tok), "tok-123")
	assert.Contains(t, tok.String(), "42")
}

func TestCredentials_StringHidesPassword(t *testing.T) {
	creds := Credentials{Username: "alice", Password: "secret1"}

	assert.NotContains(t, fmt.Sprint(creds), "secret1")
	assert.Contains(t, fmt.Sprint(creds), "alice")

	creds.Clear()
	assert.Empty(t, creds.Username)
	assert.Empty(t, creds.Password)
}

func TestUserID_IsValid(t *testing.T) {
	assert.True(t, UserID("123").IsValid())
	assert.False(t, UserID("").IsValid())
	assert.False(t, UserID("  ").IsValid())
}

func TestUserIDFromInt(t *testing.T) {
	assert.Equal(t, UserID("123456789"), UserIDFromInt(123456789))
	assert.True(t, UserIDFromInt(-100123).IsValid())
}
