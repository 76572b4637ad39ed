// Package identity holds the ephemeral id a client uses on the signaling
// channel for the lifetime of one session.
package identity

import (
	"crypto/rand"
	"math/big"
	"sync"
)

const (
	idLength = 9
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Generate returns a fresh 9 character base36 token.
func Generate() string {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, idLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("identity: crypto/rand unavailable: " + err.Error())
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}

// Identity is the session-scoped holder of the local peer id. The id is
// generated the first time the session becomes active and survives leave and
// rejoin cycles until Reset. It is safe for concurrent use.
type Identity struct {
	mu       sync.Mutex
	id       string
	generate func() string
}

func New() *Identity {
	return &Identity{generate: Generate}
}

// Ensure returns the current id, generating one if none exists yet.
func (i *Identity) Ensure() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.id == "" {
		i.id = i.generate()
	}
	return i.id
}

// ID returns the current id or "" before the first Ensure.
func (i *Identity) ID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.id
}

func (i *Identity) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.id = ""
}
