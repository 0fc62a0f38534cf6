package auth

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier checks HS256 bearer tokens whose subject is the decimal user id.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// GenerateToken creates a signed JWT for a specific user.
func GenerateToken(secret, issuer string, userID chat.UserID, authTokenDuration time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(authTokenDuration)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrTokenGeneration, err)
	}
	return signed, nil
}

// Verify parses and validates the signature, expiration and issuer of a token
// and returns the user it was issued for.
func (v *TokenVerifier) Verify(tokenString string) (chat.UserID, error) {
	if tokenString == "" {
		return 0, fmt.Errorf("%w: empty token", errors.ErrInvalidCredentials)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, options...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	if !token.Valid {
		return 0, errors.ErrInvalidCredentials
	}

	userID, ok := chat.ParseUserID(claims.Subject)
	if !ok {
		return 0, fmt.Errorf("%w: subject %q is not a user id", errors.ErrInvalidCredentials, claims.Subject)
	}
	return userID, nil
}
