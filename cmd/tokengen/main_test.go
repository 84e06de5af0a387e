package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/casino-wallet-core/internal/auth"
)

func TestRun_MintsVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "tokengen-secret")
	userID := uuid.New()

	var out bytes.Buffer
	require.NoError(t, run(&out, auth.RoleAuditor, userID.String(), time.Minute))

	claims, err := auth.ValidateToken(strings.TrimSpace(out.String()), "tokengen-secret")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, auth.RoleAuditor, claims.Role)
}

func TestRun_Rejections(t *testing.T) {
	t.Setenv("JWT_SECRET", "tokengen-secret")

	assert.Error(t, run(&bytes.Buffer{}, "root", "", 0))
	assert.Error(t, run(&bytes.Buffer{}, auth.RoleAdmin, "not-a-uuid", 0))

	t.Setenv("JWT_SECRET", "")
	assert.Error(t, run(&bytes.Buffer{}, auth.RoleAdmin, "", 0))
}
