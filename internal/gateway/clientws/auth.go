package clientws

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ManagerUsername is the identity assigned to connections authenticated with
// a manager API token instead of a user JWT.
const ManagerUsername = "manager"

// ManagerTokens validates manager API tokens. Implemented by session.Manager.
type ManagerTokens interface {
	ValidateManagerToken(token string) bool
}

// TokenValidator resolves a client auth token to a username. Tokens are
// either HS256 user JWTs or manager API tokens.
type TokenValidator struct {
	jwtSecret []byte
	manager   ManagerTokens
}

// NewTokenValidator creates a validator for the given JWT secret.
func NewTokenValidator(jwtSecret string, manager ManagerTokens) *TokenValidator {
	return &TokenValidator{jwtSecret: []byte(jwtSecret), manager: manager}
}

type userClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Validate returns the authenticated username for a token.
func (v *TokenValidator) Validate(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("empty token")
	}

	// JWTs are dotted; manager tokens are flat hex.
	if strings.Count(token, ".") == 2 {
		return v.validateJWT(token)
	}
	if v.manager != nil && v.manager.ValidateManagerToken(token) {
		return ManagerUsername, nil
	}
	return "", fmt.Errorf("invalid token")
}

func (v *TokenValidator) validateJWT(token string) (string, error) {
	claims := &userClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || claims.Username == "" {
		return "", fmt.Errorf("token carries no username")
	}
	return claims.Username, nil
}

// IssueToken mints a user JWT. Used by tests and by deployments that have no
// external identity provider.
func (v *TokenValidator) IssueToken(username string, claims jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &userClaims{
		Username:         username,
		RegisteredClaims: claims,
	})
	return token.SignedString(v.jwtSecret)
}
