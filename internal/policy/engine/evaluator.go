package engine

import "context"

// Subject is the authenticated caller as re-read from the credential store.
type Subject struct {
	UserID      string
	Role        string
	Permissions []string
}

// Request asks whether Subject may perform Action on a resource owned by OwnerID.
type Request struct {
	Subject Subject
	Action  string
	OwnerID string
}

// Authorizer decides administrative actions. Implementations fail closed: an error means deny.
type Authorizer interface {
	Allow(ctx context.Context, req Request) (bool, error)
}
