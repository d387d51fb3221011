package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs V4 URL payloads as a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with a service account JSON key. Used outside Google Cloud where IAM signBlob
// is not reachable.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewKeySignerFromFile loads a service account JSON key from path.
func NewKeySignerFromFile(path string) (*KeySigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account key: %w", err)
	}
	return NewKeySigner(data)
}

// NewKeySigner parses a service account JSON key.
func NewKeySigner(data []byte) (*KeySigner, error) {
	var doc struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode service account key: %w", err)
	}
	email := strings.TrimSpace(doc.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account key")
	}

	block, _ := pem.Decode([]byte(strings.TrimSpace(doc.PrivateKey)))
	if block == nil {
		return nil, errors.New("storage: private_key is not PEM encoded")
	}
	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		key = rsaKey
	} else if key, err = x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	return &KeySigner{email: email, key: key}, nil
}

// Email returns the service account address.
func (s *KeySigner) Email() string { return s.email }

// SignBytes returns an RSA PKCS#1 v1.5 SHA-256 signature over payload.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}
