// Package identity supplies the acting employee of a request.
//
// Session establishment (login, token issuance to end users) lives outside
// this service. Requests carry a bearer token whose claims name the actor;
// an absent or invalid token leaves the request anonymous and every
// permission check for it resolves to deny.
package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/acesso/pkg/contextkeys"
)

var (
	// ErrNoActor is returned when a request carries no credentials
	ErrNoActor = errors.New("no authenticated actor")
	// ErrInvalidToken is returned for malformed, expired or forged tokens
	ErrInvalidToken = errors.New("invalid token")
)

// Actor is the authenticated caller as declared by the identity provider
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Provider authenticates a request
type Provider interface {
	Authenticate(r *http.Request) (*Actor, error)
}

// WithActor stores the actor in the context
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, contextkeys.ActorKey, actor)
}

// ActorFromContext returns the request actor, or nil when anonymous
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(contextkeys.ActorKey).(*Actor)
	return actor
}
