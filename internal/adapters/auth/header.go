// Package auth resolves the owner identity of a request.
// Clean Architecture: Adapter implementing ports.Authenticator.
package auth

import (
	"context"
	"strings"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
)

// HeaderAuthenticator trusts an owner id set by the credential service in
// front of the gateway, typically as a request header.
type HeaderAuthenticator struct {
	defaultOwner string
}

// NewHeaderAuthenticator creates an authenticator. A non-empty defaultOwner
// is used for requests that carry no identity.
func NewHeaderAuthenticator(defaultOwner string) *HeaderAuthenticator {
	return &HeaderAuthenticator{defaultOwner: strings.TrimSpace(defaultOwner)}
}

// Authenticate returns the owner id carried by credential.
func (a *HeaderAuthenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	owner := strings.TrimSpace(credential)
	if owner == "" {
		owner = a.defaultOwner
	}
	if owner == "" {
		return "", entities.ErrUnauthenticated
	}
	return owner, nil
}
