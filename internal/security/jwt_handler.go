/*
JWT issuance and validation for the control surface. Tokens carry a
user id and one of the engine's roles; signing is pinned to HS256 so a
tampered header cannot downgrade the check. Request throttling is not
this file's concern — see RateLimiter.
*/
package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// ValidRoles defines the valid user roles in the system, derived from
// the Role set in roles.go.
var ValidRoles = map[string]bool{
	string(RoleViewer):   true,
	string(RoleOperator): true,
	string(RoleAdmin):    true,
}

// JWTClaims is the claims structure carried by control-plane tokens.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTHandler signs and validates control-plane tokens.
type JWTHandler struct {
	secretKey []byte
	logger    *logging.Logger
}

// NewJWTHandler builds a handler over the shared secret. An empty
// secret is refused so the facade can never run silently unsigned.
func NewJWTHandler(secretKey string, logger *logging.Logger) (*JWTHandler, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("secret key must be provided")
	}
	if logger == nil {
		logger = logging.GetLogger("security.jwt")
	}
	return &JWTHandler{secretKey: []byte(secretKey), logger: logger}, nil
}

// GenerateToken mints a token for userID with the given role.
// expiryHours <= 0 selects the 24h default.
func (h *JWTHandler) GenerateToken(userID, role string, expiryHours int) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}
	if !ValidRoles[role] {
		return "", fmt.Errorf("invalid role: %s", role)
	}
	if expiryHours <= 0 {
		expiryHours = 24
	}

	now := time.Now()
	claims := JWTClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expiryHours) * time.Hour)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	h.logger.WithFields(logging.Fields{
		"user_id": userID,
		"role":    role,
		"expires": claims.ExpiresAt.Format(time.RFC3339),
	}).Debug("token generated")
	return signed, nil
}

// ValidateToken parses and verifies a token, pinning the signing
// algorithm to HS256. Expiry and issued-at are enforced by the parser;
// the role must still be one this build knows.
func (h *JWTHandler) ValidateToken(tokenString string) (*JWTClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	var claims JWTClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unsupported signing method: %v", t.Method.Alg())
		}
		return h.secretKey, nil
	})
	if err != nil {
		h.logger.WithError(err).Warn("token validation failed")
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("missing required field: user_id")
	}
	if !ValidRoles[claims.Role] {
		h.logger.WithFields(logging.Fields{"role": claims.Role}).Warn("token carries unknown role")
		return nil, fmt.Errorf("invalid role: %q", claims.Role)
	}
	return &claims, nil
}

// IsTokenExpired reports expiry without verifying the signature; used
// by clients deciding whether to refresh before a call.
func (h *JWTHandler) IsTokenExpired(tokenString string) bool {
	var claims JWTClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return time.Now().After(claims.ExpiresAt.Time)
}
