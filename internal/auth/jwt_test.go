package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundtrip(t *testing.T) {
	signed, exp, err := Issue("stu-1", RoleStudent, "smartattend", "secret", time.Minute)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Parse(signed, "secret", "smartattend")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", claims.Subject)
	assert.Equal(t, RoleStudent, claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	signed, _, err := Issue("stu-1", RoleStudent, "smartattend", "secret", time.Minute)
	require.NoError(t, err)

	_, err = Parse(signed, "other", "smartattend")
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	signed, _, err := Issue("stu-1", RoleStudent, "other-app", "secret", time.Minute)
	require.NoError(t, err)

	_, err = Parse(signed, "secret", "smartattend")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	signed, _, err := Issue("stu-1", RoleStudent, "smartattend", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(signed, "secret", "smartattend")
	assert.Error(t, err)
}
