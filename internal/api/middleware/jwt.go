package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
)

// ErrJWTSigningKeyMissing is returned when no key is configured to verify with.
var ErrJWTSigningKeyMissing = errors.New("jwt signing key is not configured")

// JWTClaims defines the tracker's token claims.
type JWTClaims struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims.
func (c *JWTClaims) Identity() domain.Identity {
	return domain.Identity{UserID: c.UserID, Username: c.Username, Role: c.Role}
}

// JWTConfig holds JWT signing configuration.
type JWTConfig struct {
	SigningKey []byte
	// VerificationKeys are previous signing keys still accepted during a
	// rotation.
	VerificationKeys [][]byte
	Issuer           string
	ExpiresIn        time.Duration
}

// GenerateToken creates a signed JWT for identity.
func GenerateToken(cfg JWTConfig, identity domain.Identity) (string, time.Time, error) {
	if len(cfg.SigningKey) == 0 {
		return "", time.Time{}, ErrJWTSigningKeyMissing
	}
	now := time.Now()
	expiresAt := now.Add(cfg.ExpiresIn)
	jti, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	claims := JWTClaims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    cfg.Issuer,
			Subject:   identity.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken parses and verifies a token. Only HS256 is accepted. The
// signing key is tried first, then each verification key.
func (cfg JWTConfig) ValidateToken(_ context.Context, tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var lastErr error
	for _, key := range cfg.keys() {
		claims := &JWTClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc(key), opts...)
		if err == nil {
			if claims.UserID == "" || !claims.Role.Valid() {
				return nil, fmt.Errorf("%w: missing user or role", jwt.ErrTokenInvalidClaims)
			}
			return claims, nil
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	return nil, lastErr
}

// Authenticate resolves a token to an identity. Failures are AppErrors with
// the token error code.
func (cfg JWTConfig) Authenticate(tokenString string) (domain.Identity, error) {
	claims, err := cfg.ValidateToken(context.Background(), tokenString)
	if err != nil {
		return domain.Identity{}, tokenError(err)
	}
	return claims.Identity(), nil
}

func (cfg JWTConfig) keys() [][]byte {
	keys := [][]byte{cfg.SigningKey}
	for _, k := range cfg.VerificationKeys {
		if len(k) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

func keyFunc(key []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if len(key) == 0 {
			return nil, ErrJWTSigningKeyMissing
		}
		return key, nil
	}
}

func tokenError(err error) *apperrors.AppError {
	wrapped := fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperrors.Wrap(wrapped, apperrors.CodeTokenExpired, "token expired", http.StatusUnauthorized)
	}
	return apperrors.Wrap(wrapped, apperrors.CodeTokenInvalid, "invalid token", http.StatusUnauthorized)
}

// JWTAuth validates Bearer tokens and stores the identity in the request
// context.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.Unauthorized(apperrors.CodeAuthFailed, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, apperrors.Unauthorized(apperrors.CodeAuthFailed, "invalid authorization header format"))
			return
		}

		identity, err := cfg.Authenticate(strings.TrimSpace(parts[1]))
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(string(ctxKeyIdentity), identity)
		c.Request = c.Request.WithContext(SetIdentity(c.Request.Context(), identity))
		c.Next()
	}
}
