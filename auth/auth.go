// Package auth resolves the principal making an HTTP request. Access
// decisions are not made here, see package policy.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrInvalidCredentials means credentials were presented but could not
	// be verified.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Authenticator resolves the principal of a request. A request without
// credentials of the kind the authenticator understands yields the empty
// principal and no error.
type Authenticator interface {
	Authenticate(r *http.Request) (principal string, err error)

	// Challenge is the WWW-Authenticate header value to send with 401
	// responses.
	Challenge() string
}

type chain []Authenticator

// Chain tries each authenticator in turn. The first one to recognise the
// credentials decides; if none does, the request is anonymous.
func Chain(authenticators ...Authenticator) Authenticator {
	return chain(authenticators)
}

func (c chain) Authenticate(r *http.Request) (string, error) {
	for _, a := range c {
		principal, err := a.Authenticate(r)
		if err != nil || principal != "" {
			return principal, err
		}
	}
	return "", nil
}

func (c chain) Challenge() string {
	var challenges []string
	for _, a := range c {
		challenges = append(challenges, a.Challenge())
	}
	return strings.Join(challenges, ", ")
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// Principal returns the principal stored by WithPrincipal, or the empty
// string for anonymous requests.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}
