package roomchat

import (
	"net/http"
)

// UserID is the stable identifier of a verified user.
type UserID = string

// Identity is the verified user behind a connection. It never changes for the
// lifetime of the connection.
type Identity struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"username"`
}

// IdentityResolver turns the credential presented on the upgrade request into
// a verified Identity. Implementations return an error wrapping ErrAuthRejected
// when the credential is missing or invalid.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (Identity, error)
}

// IdentityResolverFunc adapts a plain function to IdentityResolver.
type IdentityResolverFunc func(r *http.Request) (Identity, error)

func (f IdentityResolverFunc) ResolveIdentity(r *http.Request) (Identity, error) {
	return f(r)
}

func (id Identity) valid() bool {
	return id.ID != "" && id.DisplayName != ""
}
