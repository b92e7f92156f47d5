package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlacklist(t *testing.T) (*TokenBlacklist, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTokenBlacklist(rdb), mr
}

func TestTokenBlacklist(t *testing.T) {
	tb, mr := newTestBlacklist(t)
	ctx := context.Background()

	t.Run("BlacklistValidToken", func(t *testing.T) {
		tokenString := "header.payload.signature-one"

		require.NoError(t, tb.BlacklistToken(ctx, tokenString, time.Now().Add(time.Hour)))

		isBlacklisted, err := tb.IsTokenBlacklisted(ctx, tokenString)
		assert.NoError(t, err)
		assert.True(t, isBlacklisted)
		assert.True(t, mr.Exists(blacklistKeyPrefix+tb.hashToken(tokenString)))
	})

	t.Run("NonBlacklistedToken", func(t *testing.T) {
		isBlacklisted, err := tb.IsTokenBlacklisted(ctx, "header.payload.never-revoked")
		assert.NoError(t, err)
		assert.False(t, isBlacklisted)
	})

	t.Run("ExpiredTokenIsSkipped", func(t *testing.T) {
		tokenString := "header.payload.expired"

		require.NoError(t, tb.BlacklistToken(ctx, tokenString, time.Now().Add(-time.Hour)))

		isBlacklisted, err := tb.IsTokenBlacklisted(ctx, tokenString)
		assert.NoError(t, err)
		assert.False(t, isBlacklisted)
	})

	t.Run("TokenTTL", func(t *testing.T) {
		tokenString := "header.payload.short-lived"

		require.NoError(t, tb.BlacklistToken(ctx, tokenString, time.Now().Add(2*time.Second)))

		isBlacklisted, err := tb.IsTokenBlacklisted(ctx, tokenString)
		assert.NoError(t, err)
		assert.True(t, isBlacklisted)

		mr.FastForward(3 * time.Second)

		isBlacklisted, err = tb.IsTokenBlacklisted(ctx, tokenString)
		assert.NoError(t, err)
		assert.False(t, isBlacklisted)
	})

	t.Run("HashingConsistency", func(t *testing.T) {
		hash1 := tb.hashToken("test.jwt.token")
		hash2 := tb.hashToken("test.jwt.token")

		assert.Equal(t, hash1, hash2)
		assert.Len(t, hash1, 64)
		assert.NotEqual(t, hash1, tb.hashToken("test.jwt.other"))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, tb.Ping(ctx))
	})
}

func TestTokenBlacklist_RevokeToken(t *testing.T) {
	tb, _ := newTestBlacklist(t)
	verifier := newTestVerifier(t, nil, nil)
	ctx := context.Background()

	t.Run("valid token is revoked", func(t *testing.T) {
		token := signToken(t, testClaims("alice", time.Now().Add(time.Hour)))

		require.NoError(t, tb.RevokeToken(ctx, verifier, token))

		isBlacklisted, err := tb.IsTokenBlacklisted(ctx, token)
		require.NoError(t, err)
		assert.True(t, isBlacklisted)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		err := tb.RevokeToken(ctx, verifier, "invalid.jwt.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestTokenBlacklist_RedisDown(t *testing.T) {
	tb, mr := newTestBlacklist(t)
	mr.Close()

	_, err := tb.IsTokenBlacklisted(context.Background(), "any.token.value")
	assert.Error(t, err)
	assert.Error(t, tb.BlacklistToken(context.Background(), "any.token.value", time.Now().Add(time.Minute)))
}
