package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWT authenticates HMAC-signed bearer tokens. The principal is the token
// subject.
type JWT struct {
	secret  []byte
	options []jwt.ParserOption
}

type JWTOption func(*JWT)

func WithIssuer(value string) JWTOption {
	return func(j *JWT) {
		j.options = append(j.options, jwt.WithIssuer(value))
	}
}

func WithAudience(value string) JWTOption {
	return func(j *JWT) {
		j.options = append(j.options, jwt.WithAudience(value))
	}
}

func NewJWT(secret []byte, opts ...JWTOption) *JWT {
	j := &JWT{
		secret: secret,
		options: []jwt.ParserOption{
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
		},
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *JWT) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", nil
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, j.options...)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrInvalidCredentials)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject: %w", ErrInvalidCredentials)
	}
	return claims.Subject, nil
}

func (j *JWT) Challenge() string {
	return "Bearer"
}
