package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	SchemeToken  = "TOKEN"
	SchemeBearer = "Bearer"
)

// Claims carries the user id in Subject and the user role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueJWT signs an HS256 token for userID valid for ttl.
func IssueJWT(userID, role string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// SplitAuthorization splits "<scheme> <credential>". The scheme match is
// case-insensitive and the returned scheme is canonical.
func SplitAuthorization(header string) (scheme string, credential string) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	credential = strings.TrimSpace(parts[1])
	if credential == "" {
		return "", ""
	}
	switch {
	case strings.EqualFold(parts[0], SchemeToken):
		return SchemeToken, credential
	case strings.EqualFold(parts[0], SchemeBearer):
		return SchemeBearer, credential
	default:
		return "", ""
	}
}

func ExtractBearer(header string) string {
	scheme, credential := SplitAuthorization(header)
	if scheme != SchemeBearer {
		return ""
	}
	return credential
}
