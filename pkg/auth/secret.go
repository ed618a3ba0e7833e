package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates the mesh-wide shared secret carried by every call.
type Authenticator interface {
	Check(key string) bool
}

type plainSecret []byte

// NewSecret compares keys against a plaintext secret in constant time.
func NewSecret(secret string) (Authenticator, error) {
	if secret == "" {
		return nil, errors.New("shared secret is empty")
	}
	return plainSecret(secret), nil
}

func (s plainSecret) Check(key string) bool {
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare(s, []byte(key)) == 1
}

type hashedSecret []byte

// NewHashedSecret compares keys against a bcrypt hash so the coordinator
// never needs the plaintext secret on disk.
func NewHashedSecret(hash string) (Authenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("parse bcrypt hash: %w", err)
	}
	return hashedSecret(hash), nil
}

func (h hashedSecret) Check(key string) bool {
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(h, []byte(key)) == nil
}

// HashSecret produces a bcrypt hash suitable for NewHashedSecret.
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadKeyFile loads a shared secret from path, trimming surrounding whitespace.
func ReadKeyFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}
	return key, nil
}
