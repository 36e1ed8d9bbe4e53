package btp

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Authenticator validates the payload of a client's initial auth
// sub-protocol message and reports which peer it identifies, if any.
type Authenticator interface {
	Authenticate(token string) (peerID string, ok bool)
}

// StaticTokenAuth authenticates clients against a fixed table of
// peerID -> token, suitable for a small set of bilaterally configured
// peers. Each comparison is constant-time over the token bytes, so a
// matching prefix is not revealed through timing; a length mismatch
// returns early, so token length is not hidden.
type StaticTokenAuth struct {
	tokens map[string]string // peerID -> token
}

// NewStaticTokenAuth builds an Authenticator from a peerID-to-token table.
func NewStaticTokenAuth(tokens map[string]string) *StaticTokenAuth {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticTokenAuth{tokens: cp}
}

func (a *StaticTokenAuth) Authenticate(token string) (string, bool) {
	for peerID, want := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return peerID, true
		}
	}
	return "", false
}

// PermissionlessAuth accepts any token, including a missing or empty
// one, per the core's permissionless-mode contract. A non-empty token
// mints a stable peer ID from the token itself, so the same presented
// token always identifies the same peer; an empty token mints a fresh,
// unique peer ID per connection since there is nothing to key on.
type PermissionlessAuth struct{}

func (PermissionlessAuth) Authenticate(token string) (string, bool) {
	if token == "" {
		return "anon-" + uuid.NewString(), true
	}
	return "anon-" + token, true
}
