package remote

import (
	"context"

	"github.com/google/go-containerregistry/pkg/authn"
)

// Authenticator provides authentication for OCI registry operations.
// credentials.Resolver is the production implementation.
type Authenticator interface {
	// Authenticator returns credentials for the given registry host.
	Authenticator(ctx context.Context, registry string) (authn.Authenticator, error)
}

// AnonymousAuthenticator never sends credentials.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Authenticator(context.Context, string) (authn.Authenticator, error) {
	return authn.Anonymous, nil
}
