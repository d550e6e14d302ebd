package authn

import "github.com/Euregan/valentin/pkg/session"

// Identity is either a *SessionIdentity or a *KeyIdentity.
type Identity interface {
	// Subject is the id of the user the request acts for.
	Subject() string
	isIdentity()
}

type SessionIdentity struct {
	session.Claims
}

func (s *SessionIdentity) Subject() string { return s.User.ID }
func (*SessionIdentity) isIdentity()       {}

type KeyIdentity struct {
	KeyID      string
	OwnerID    string
	OwnerEmail string
	Name       string
	Attributes map[string]any
}

func (k *KeyIdentity) Subject() string { return k.OwnerID }
func (*KeyIdentity) isIdentity()       {}
