package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// SessionID identifies one issued session or reset request.
type SessionID [16]byte

const (
	secretSize   = 32
	tokenRawSize = len(SessionID{}) + secretSize
)

// ErrMalformedToken is returned when an opaque token does not decode.
var ErrMalformedToken = errors.New("malformed opaque token")

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, ErrMalformedToken
	}
	if len(raw) != len(sid) {
		return sid, ErrMalformedToken
	}

	copy(sid[:], raw)
	return sid, nil
}

// OpaqueToken is an id plus a random secret. Only the secret hash is stored
// server side; the encoded token is handed to the client once.
type OpaqueToken struct {
	ID     SessionID
	Secret [secretSize]byte
}

// NewOpaqueToken draws a fresh id and secret.
func NewOpaqueToken() (OpaqueToken, error) {
	var t OpaqueToken
	id, err := NewSessionID()
	if err != nil {
		return t, err
	}
	t.ID = id
	if _, err := rand.Read(t.Secret[:]); err != nil {
		return t, err
	}
	return t, nil
}

func (t OpaqueToken) Hash() [32]byte {
	return sha256.Sum256(t.Secret[:])
}

// Matches compares the token secret with a stored hash in constant time.
func (t OpaqueToken) Matches(hash [32]byte) bool {
	h := t.Hash()
	return subtle.ConstantTimeCompare(h[:], hash[:]) == 1
}

func (t OpaqueToken) Encode() string {
	var raw [tokenRawSize]byte
	copy(raw[:len(t.ID)], t.ID[:])
	copy(raw[len(t.ID):], t.Secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeOpaqueToken(token string) (OpaqueToken, error) {
	var t OpaqueToken

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return t, ErrMalformedToken
	}
	if len(raw) != tokenRawSize {
		return t, ErrMalformedToken
	}

	copy(t.ID[:], raw[:len(t.ID)])
	copy(t.Secret[:], raw[len(t.ID):])
	return t, nil
}
