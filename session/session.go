// Package session manages per-client key material and the client half of the
// pipeline: scaling and encrypting features, and checking the noise budget
// before decrypting results.
//
// A Session is an explicit value owned by one client. Nothing here is global,
// so independent sessions can run concurrently in one process.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"bfv-inference/envelope"
	"bfv-inference/he"
)

// ErrClosed is returned by a Session whose secret key has been released.
var ErrClosed = errors.New("session closed")

// Manager creates sessions for one set of scheme parameters.
type Manager struct {
	backend   he.Backend
	minBudget int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMinBudget refuses decryption of ciphertexts whose budget is at or
// below bits. The default is zero.
func WithMinBudget(bits int) ManagerOption {
	return func(m *Manager) { m.minBudget = bits }
}

func NewManager(backend he.Backend, opts ...ManagerOption) *Manager {
	m := &Manager{backend: backend}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateKeys starts a session with a fresh key pair. Every call yields an
// independent pair: results computed for one session cannot be opened by
// another.
func (m *Manager) CreateKeys() (*Session, error) {
	kp, err := m.backend.GenKeyPair()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return m.open(kp)
}

func (m *Manager) open(kp he.KeyPair) (*Session, error) {
	fp, err := fingerprint(m.backend, kp.Public)
	if err != nil {
		return nil, err
	}

	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}

	return &Session{
		Encryptor:   Encryptor{backend: m.backend, public: kp.Public},
		id:          hex.EncodeToString(id),
		fingerprint: fp,
		minBudget:   m.minBudget,
		secret:      kp.Secret,
	}, nil
}

func fingerprint(b he.Backend, pk he.PublicKey) (string, error) {
	data, err := b.MarshalPublicKey(pk)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// Session owns one key pair. Its methods are safe for concurrent use.
type Session struct {
	Encryptor

	id          string
	fingerprint string
	minBudget   int

	mu     sync.RWMutex
	secret he.SecretKey
}

// ID is a random identifier for logs.
func (s *Session) ID() string { return s.id }

// Fingerprint is a short digest of the public key.
func (s *Session) Fingerprint() string { return s.fingerprint }

// Close releases the secret key. Decryption fails afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.secret = nil
	s.mu.Unlock()
}

// Decrypt opens one ciphertext after checking its noise budget.
func (s *Session) Decrypt(ct he.Ciphertext) (int64, int, error) {
	s.mu.RLock()
	sk := s.secret
	s.mu.RUnlock()
	if sk == nil {
		return 0, 0, ErrClosed
	}

	budget, err := s.backend.NoiseBudget(sk, ct)
	if err != nil {
		return 0, 0, fmt.Errorf("noise budget: %w", err)
	}
	if budget <= s.minBudget {
		return 0, budget, &he.NoiseBudgetExhaustedError{Budget: budget}
	}

	pt, err := s.backend.Decrypt(sk, ct)
	if err != nil {
		return 0, budget, err
	}
	v, err := s.backend.DecodeInteger(pt)
	return v, budget, err
}

// DecryptResult opens every result ciphertext, sample by sample. It stops
// at the first ciphertext whose budget is exhausted and reports its
// position; no partial output is returned.
func (s *Session) DecryptResult(rows he.Batch) ([][]int64, error) {
	out := make([][]int64, len(rows))
	for i, row := range rows {
		out[i] = make([]int64, len(row))
		for c, ct := range row {
			v, _, err := s.Decrypt(ct)
			var nbe *he.NoiseBudgetExhaustedError
			if errors.As(err, &nbe) {
				nbe.Sample, nbe.Class = i, c
				return nil, nbe
			}
			if err != nil {
				return nil, fmt.Errorf("sample %d class %d: %w", i, c, err)
			}
			out[i][c] = v
		}
	}
	return out, nil
}

// MinBudget reports the smallest remaining budget across rows.
func (s *Session) MinBudget(rows he.Batch) (int, error) {
	s.mu.RLock()
	sk := s.secret
	s.mu.RUnlock()
	if sk == nil {
		return 0, ErrClosed
	}

	lowest := -1
	for _, row := range rows {
		for _, ct := range row {
			b, err := s.backend.NoiseBudget(sk, ct)
			if err != nil {
				return 0, err
			}
			if lowest < 0 || b < lowest {
				lowest = b
			}
		}
	}
	return lowest, nil
}

// Open decodes a response body and decrypts it with DecryptResult.
func (s *Session) Open(body []byte) ([][]int64, error) {
	rows, err := envelope.Unpack(s.backend, body)
	if err != nil {
		return nil, err
	}
	return s.DecryptResult(rows)
}
