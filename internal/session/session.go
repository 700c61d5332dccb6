// Package session tracks the logged-in user and signs events on their behalf.
package session

import (
	"errors"
	"sync"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

var ErrNoSession = errors.New("no active session")

// Signer signs events for one pubkey
type Signer interface {
	PubKey() string
	Sign(evt *types.Event) error
}

// KeySigner signs with a locally held secret key
type KeySigner struct {
	secret string
	pubkey string
}

// NewKeySigner accepts a hex secret key
func NewKeySigner(secretHex string) (*KeySigner, error) {
	pubkey, err := nostr.PublicKeyFromSecret(secretHex)
	if err != nil {
		return nil, err
	}
	return &KeySigner{secret: secretHex, pubkey: pubkey}, nil
}

func (k *KeySigner) PubKey() string { return k.pubkey }

func (k *KeySigner) Sign(evt *types.Event) error {
	return nostr.SignEvent(evt, k.secret)
}

// Session is the current user
type Session struct {
	PubKey string
	Signer Signer
}

// Manager holds the current session, if any
type Manager struct {
	mu      sync.RWMutex
	current *Session
}

func NewManager() *Manager {
	return &Manager{}
}

// Login makes signer's key the current session
func (m *Manager) Login(signer Signer) *Session {
	s := &Session{PubKey: signer.PubKey(), Signer: signer}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Logout() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Current returns the active session or nil
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PubKey returns the session pubkey, or "" when logged out
func (m *Manager) PubKey() string {
	if s := m.Current(); s != nil {
		return s.PubKey
	}
	return ""
}

// Require returns the active session or ErrNoSession
func (m *Manager) Require() (*Session, error) {
	s := m.Current()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}
