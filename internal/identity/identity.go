// Package identity holds the local peer's key material: its own RSA
// keypair, the public-key table keyed by hostname, and the group
// symmetric-key table keyed by group name (spec.md §3). Group keys are
// never serialized to other peers.
package identity

import (
	"crypto/rsa"
	"fmt"
	"sync"

	"meshchat/internal/crypto"
)

// Identity is the local peer's key store.
type Identity struct {
	Hostname string

	privateKey *rsa.PrivateKey
	publicDER  []byte

	mu         sync.RWMutex
	peerPubs   map[string]*rsa.PublicKey
	groupKeys  map[string]groupKey
}

type groupKey struct {
	key []byte
	iv  []byte
}

// New loads or generates the local keypair under dir and returns an
// Identity for hostname.
func New(hostname, dir string) (*Identity, error) {
	pubDER, privDER, err := crypto.LoadOrGenerateKeypair(dir)
	if err != nil {
		return nil, fmt.Errorf("identity: load or generate keypair: %w", err)
	}
	priv, err := crypto.ParsePrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	return &Identity{
		Hostname:   hostname,
		privateKey: priv,
		publicDER:  pubDER,
		peerPubs:   make(map[string]*rsa.PublicKey),
		groupKeys:  make(map[string]groupKey),
	}, nil
}

// PublicKeyDER returns the local peer's own public key, DER-encoded,
// for inclusion in discovery hellos and INIT bootstraps.
func (id *Identity) PublicKeyDER() []byte {
	return id.publicDER
}

// PrivateKey returns the local peer's private key, for PrivateDecrypt.
func (id *Identity) PrivateKey() *rsa.PrivateKey {
	return id.privateKey
}

// SetPeerPublicKey records hostname's public key, parsed from DER.
func (id *Identity) SetPeerPublicKey(hostname string, der []byte) error {
	pub, err := crypto.ParsePublicKey(der)
	if err != nil {
		return fmt.Errorf("identity: parse public key for %s: %w", hostname, err)
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	id.peerPubs[hostname] = pub
	return nil
}

// PeerPublicKey returns hostname's known public key, if any.
func (id *Identity) PeerPublicKey(hostname string) (*rsa.PublicKey, bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	pub, ok := id.peerPubs[hostname]
	return pub, ok
}

// RemovePeer forgets a peer's public key, on REMOVEPEER.
func (id *Identity) RemovePeer(hostname string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	delete(id.peerPubs, hostname)
}

// DeriveGroupKey derives and stores group's symmetric key/IV from
// password (spec.md §4.2), so later GroupEncrypt/GroupDecrypt calls
// for this group reuse it without re-deriving.
func (id *Identity) DeriveGroupKey(group, password string) {
	key, iv := crypto.DeriveGroupKey(password)
	id.mu.Lock()
	defer id.mu.Unlock()
	id.groupKeys[group] = groupKey{key: key, iv: iv}
}

// GroupKey returns group's stored symmetric key/IV, if derived.
func (id *Identity) GroupKey(group string) (key, iv []byte, ok bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	gk, found := id.groupKeys[group]
	if !found {
		return nil, nil, false
	}
	return gk.key, gk.iv, true
}

// ForgetGroupKey drops a group's symmetric key, once the group is
// deleted (its last member left).
func (id *Identity) ForgetGroupKey(group string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	delete(id.groupKeys, group)
}

// Knows reports whether the local peer holds a public key for
// hostname, including itself.
func (id *Identity) Knows(hostname string) bool {
	if hostname == id.Hostname {
		return true
	}
	_, ok := id.PeerPublicKey(hostname)
	return ok
}
