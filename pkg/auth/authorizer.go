package auth

import (
	"context"
	"fmt"

	"github.com/cuemby/ideengine/pkg/types"
)

// ExternalAuthorizer resolves a browser's session token to a user identity
// and decides what access that user has to a bucket. Identity/session
// validation and the user-owns-bucket decision live in the surrounding
// platform (course enrollment, instructor roles, ...), which this engine
// treats as an external collaborator it calls into rather than
// reimplements.
type ExternalAuthorizer interface {
	// AuthorizeBrowser validates sessionToken and returns the authenticated
	// user id, or ErrUnauthorized if the token is invalid or expired.
	AuthorizeBrowser(ctx context.Context, sessionToken string) (userID string, err error)
	// CanAccessBucket reports the access role userID has on bucketID, or
	// ErrUnauthorized if the user has none.
	CanAccessBucket(ctx context.Context, userID, bucketID string) (types.SubscriptionRole, error)
}

// CheckScope enforces that a connection's token scope covers the bucket a
// message targets. Container-agent tokens are bound to exactly one bucket
// at issuance; a message naming any other bucket is rejected outright so
// compromise of one connection cannot cross buckets. Browser and service
// tokens carry no fixed bucket binding here — their access is decided
// per-call by ExternalAuthorizer (browser) or is administrative (service).
func CheckScope(kind types.PeerKind, tokenBucketID, requestedBucketID string) error {
	if kind == types.PeerKindContainerAgent && tokenBucketID != requestedBucketID {
		return fmt.Errorf("%w: container token bound to bucket %q, requested %q", types.ErrUnauthorized, tokenBucketID, requestedBucketID)
	}
	return nil
}
