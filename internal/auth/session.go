// Package auth resolves the caller's audience from the shared verifier
// secret and carries it through request contexts.
package auth

import (
	"context"
	"crypto/subtle"
)

// Audience classifies a caller
type Audience string

const (
	AudiencePublic     Audience = "public"
	AudiencePrivileged Audience = "privileged"
)

// Authenticator decides whether a presented credential grants privileged access.
type Authenticator interface {
	Authenticate(credential string) bool
}

// AuthenticatorFunc adapts a plain predicate to Authenticator
type AuthenticatorFunc func(credential string) bool

func (f AuthenticatorFunc) Authenticate(credential string) bool {
	return f(credential)
}

// StaticSecret authenticates against one shared secret. With no secret
// configured nobody is privileged.
type StaticSecret struct {
	secret []byte
}

// NewStaticSecret creates a StaticSecret authenticator
func NewStaticSecret(secret string) *StaticSecret {
	return &StaticSecret{secret: []byte(secret)}
}

// Authenticate compares the credential in constant time
func (s *StaticSecret) Authenticate(credential string) bool {
	if len(s.secret) == 0 || credential == "" {
		return false
	}
	return subtle.ConstantTimeCompare(s.secret, []byte(credential)) == 1
}

// Session is the per-call access context passed into every service operation.
type Session struct {
	Audience Audience
	Actor    string
}

// IsPrivileged reports whether the session may write and see private claims
func (s Session) IsPrivileged() bool {
	return s.Audience == AudiencePrivileged
}

// Public returns an anonymous read-only session
func Public() Session {
	return Session{Audience: AudiencePublic}
}

// Resolve builds a session from a presented credential. actor is the
// caller's self-reported name and is informational only.
func Resolve(a Authenticator, credential, actor string) Session {
	if a != nil && a.Authenticate(credential) {
		return Session{Audience: AudiencePrivileged, Actor: actor}
	}
	return Session{Audience: AudiencePublic, Actor: actor}
}

type sessionKey struct{}

// WithSession stores a session in ctx
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored in ctx, or a public session
func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s
	}
	return Public()
}
