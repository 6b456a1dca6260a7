// Package auth resolves chat identities from HMAC signed JWTs.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chilledoj/roomchat"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const defaultLeeway = 30 * time.Second

// Claims are the custom claims carried by a chat token.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver implements roomchat.IdentityResolver. The token is taken from
// the token query parameter or an Authorization bearer header.
type JWTResolver struct {
	secret []byte
	leeway time.Duration
}

var _ roomchat.IdentityResolver = (*JWTResolver)(nil)

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), leeway: defaultLeeway}
}

func (j *JWTResolver) ResolveIdentity(r *http.Request) (roomchat.Identity, error) {
	tokenStr := TokenFromRequest(r)
	if tokenStr == "" {
		return roomchat.Identity{}, fmt.Errorf("%w: %w", roomchat.ErrAuthRejected, ErrMissingToken)
	}
	claims, err := j.Validate(tokenStr)
	if err != nil {
		return roomchat.Identity{}, fmt.Errorf("%w: %w", roomchat.ErrAuthRejected, err)
	}
	return roomchat.Identity{ID: claims.UserID, DisplayName: claims.Username}, nil
}

// Validate parses tokenStr, accepting HMAC signatures only.
func (j *JWTResolver) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return j.secret, nil
	}, jwt.WithLeeway(j.leeway))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest returns the token query parameter or, failing that, the
// bearer token of the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Issuer signs chat tokens. It is used by the dev login endpoint and tests.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	name   string
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, name: "roomchat"}
}

func (i *Issuer) Issue(identity roomchat.Identity, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   identity.ID,
		Username: identity.DisplayName,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
