package testutil

import (
	"context"
	"net/http"

	gateway "github.com/wayfarerhq/gandalf/internal"
)

// FakeAuth always authenticates successfully as the app-shared principal.
type FakeAuth struct{}

// Authenticate returns a test principal with app-shared scope.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Principal, error) {
	return &gateway.Principal{Kind: gateway.PrincipalApp, UserID: "app", Channel: gateway.StableChannel}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrAuthRequired.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Principal, error) {
	return nil, gateway.ErrAuthRequired
}
