package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/netscope/scancollab/internal/slogging"
)

// Identity is the authenticated principal behind a collaboration session
type Identity struct {
	UserID    string
	Username  string
	Email     string
	ExpiresAt time.Time
}

// RevocationChecker reports whether a raw token has been revoked
type RevocationChecker interface {
	IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error)
}

// VerifierConfig configures JWTVerifier
type VerifierConfig struct {
	Secret        []byte
	SigningMethod string
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// JWTVerifier validates HMAC-signed bearer tokens issued by the dashboard's auth service
type JWTVerifier struct {
	cfg     VerifierConfig
	parser  *jwt.Parser
	revoked RevocationChecker
}

// collabClaims are the claims a collaboration token must carry
type collabClaims struct {
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTVerifier builds a verifier. revoked may be nil when revocation is disabled.
func NewJWTVerifier(cfg VerifierConfig, revoked RevocationChecker, clock clockwork.Clock) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = jwt.SigningMethodHS256.Alg()
	}
	if _, ok := jwt.GetSigningMethod(cfg.SigningMethod).(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{cfg.SigningMethod}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTVerifier{
		cfg:     cfg,
		parser:  jwt.NewParser(opts...),
		revoked: revoked,
	}, nil
}

// Verify checks signature, expiry, issuer, audience and revocation, in that order
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (Identity, error) {
	logger := slogging.Get()

	claims, err := v.parse(tokenString)
	if err != nil {
		return Identity{}, err
	}

	if v.revoked != nil {
		revoked, err := v.revoked.IsTokenBlacklisted(ctx, tokenString)
		if err != nil {
			// A revocation store outage must not let a revoked token through
			logger.Error("Token revocation check failed: %v", err)
			return Identity{}, fmt.Errorf("%w: revocation check unavailable", ErrAuthFailed)
		}
		if revoked {
			return Identity{}, ErrTokenRevoked
		}
	}

	identity := Identity{
		UserID:   claims.Subject,
		Username: firstNonEmpty(claims.PreferredUsername, claims.Name, claims.Email, claims.Subject),
		Email:    claims.Email,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// ExpiresAt returns the verified exp claim of tokenString
func (v *JWTVerifier) ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := v.parse(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

func (v *JWTVerifier) parse(tokenString string) (*collabClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &collabClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return claims, nil
}

// ExtractToken reads the credential from the token query parameter or an
// Authorization: Bearer header. Browsers cannot set headers on WebSocket
// upgrades, so the query parameter is checked first.
func ExtractToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
