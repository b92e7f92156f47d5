package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/netscope/scancollab/internal/slogging"
	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "blacklist:token:"

// TokenBlacklist stores revoked tokens in Redis until their natural expiry
type TokenBlacklist struct {
	redis *redis.Client
}

// NewTokenBlacklist creates a new token blacklist service
func NewTokenBlacklist(redisClient *redis.Client) *TokenBlacklist {
	slogging.Get().Info("Initializing token blacklist service")
	return &TokenBlacklist{redis: redisClient}
}

// BlacklistToken revokes tokenString until expiresAt. Already expired tokens are skipped.
func (tb *TokenBlacklist) BlacklistToken(ctx context.Context, tokenString string, expiresAt time.Time) error {
	logger := slogging.Get()

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		logger.Debug("Token already expired, skipping blacklist expiration_time=%v", expiresAt)
		return nil
	}

	tokenHash := tb.hashToken(tokenString)
	if err := tb.redis.Set(ctx, blacklistKeyPrefix+tokenHash, "revoked", ttl).Err(); err != nil {
		logger.Error("Failed to store token in blacklist token_hash=%s... error=%v", tokenHash[:16], err)
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	logger.Info("Token blacklisted token_hash=%s... ttl_seconds=%d", tokenHash[:16], int(ttl.Seconds()))
	return nil
}

// RevokeToken verifies tokenString and blacklists it for the rest of its lifetime
func (tb *TokenBlacklist) RevokeToken(ctx context.Context, verifier *JWTVerifier, tokenString string) error {
	expiresAt, err := verifier.ExpiresAt(tokenString)
	if err != nil {
		return fmt.Errorf("failed to parse or validate token: %w", err)
	}
	return tb.BlacklistToken(ctx, tokenString, expiresAt)
}

// IsTokenBlacklisted checks if a JWT token is blacklisted
func (tb *TokenBlacklist) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	tokenHash := tb.hashToken(tokenString)

	exists, err := tb.redis.Exists(ctx, blacklistKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}

	slogging.Get().Debug("Token blacklist check token_hash=%s... is_blacklisted=%t", tokenHash[:16], exists > 0)
	return exists > 0, nil
}

// Ping reports whether the backing Redis is reachable
func (tb *TokenBlacklist) Ping(ctx context.Context) error {
	return tb.redis.Ping(ctx).Err()
}

func (tb *TokenBlacklist) hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
