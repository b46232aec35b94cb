package handlers

import (
	"crypto/sha256"
	"errors"
	"sync"

	"mediaref/internal/errs"
	"mediaref/internal/logging"

	"golang.org/x/crypto/bcrypt"
)

// maxTokenLength is bcrypt's input limit.
const maxTokenLength = 72

// TokenVerifier checks the token sent with every action against a bcrypt
// hash. Tokens that verified once are remembered by digest so repeated
// polling does not pay the bcrypt cost on every request.
type TokenVerifier struct {
	hash []byte

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

// NewTokenVerifier creates a verifier for a bcrypt hash.
func NewTokenVerifier(hash string) (*TokenVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, err
	}
	return &TokenVerifier{hash: []byte(hash), verified: make(map[[sha256.Size]byte]struct{})}, nil
}

// HashToken returns the bcrypt hash of a plain token.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", errors.New("token is empty")
	}
	if len(token) > maxTokenLength {
		return "", errors.New("token must not exceed 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify returns a ValidationError unless token matches the hash.
func (v *TokenVerifier) Verify(token string) error {
	if v == nil {
		return nil
	}
	if token == "" {
		return errs.Validation("token", "request token is missing")
	}
	if len(token) > maxTokenLength {
		return errs.Validation("token", "request token is invalid")
	}

	sum := sha256.Sum256([]byte(token))
	v.mu.Lock()
	_, ok := v.verified[sum]
	v.mu.Unlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		logging.Warn("Rejected action request with an invalid token")
		return errs.Validation("token", "request token is invalid")
	}

	v.mu.Lock()
	v.verified[sum] = struct{}{}
	v.mu.Unlock()
	return nil
}
