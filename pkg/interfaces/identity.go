package interfaces

import "guestline/pkg/types"

// TokenVerifier is the messaging core's entire view of the identity
// provider: a bearer token either resolves to a user id and role or it is
// rejected. Token issuance lives elsewhere.
type TokenVerifier interface {
	Verify(token string) (*types.Identity, error)
}
