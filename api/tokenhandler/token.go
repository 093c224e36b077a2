package tokenhandler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim stamped on every access token.
const TokenIssuer = "cloudenroll-identity"

// Claims is the access token payload shared by the services: the account's
// email, its hosted-domain marker (absent for consumer accounts) and the
// granted scopes.
type Claims struct {
	Email        string `json:"email"`
	HostedDomain string `json:"hd,omitempty"`
	Scope        string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, granted := range strings.Fields(c.Scope) {
		if granted == scope {
			return true
		}
	}
	return false
}

func issueAccessToken(secret []byte, account Account, scopes []string, ttl time.Duration) (interfaces.AccessToken, error) {
	now := time.Now()
	claims := &Claims{
		Email:        account.Email,
		HostedDomain: account.HostedDomain,
		Scope:        strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   account.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("could not sign access token: %w", err)
	}

	return interfaces.AccessToken(signed), nil
}

// VerifyAccessToken validates an access token against the shared signing
// secret and returns its claims. Expired tokens, foreign issuers and
// non-HS256 signatures are rejected.
func VerifyAccessToken(secret []byte, token interfaces.AccessToken) (*Claims, error) {
	if !token.Valid() {
		return nil, errors.New("empty access token")
	}

	parsed, err := jwt.ParseWithClaims(string(token), &Claims{},
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, errors.New("unexpected access token claims")
	}

	return claims, nil
}
