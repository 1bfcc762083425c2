// Package auth validates CMS API keys against the key store.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
)

// HeaderAPIKey is the header the CMS plugin reads the key from.
const HeaderAPIKey = "X-API-Key"

// Authenticator validates API keys against stored hashes.
type Authenticator struct {
	keys storage.KeyStore
}

// NewAuthenticator creates a new authenticator backed by keys.
func NewAuthenticator(keys storage.KeyStore) *Authenticator {
	return &Authenticator{keys: keys}
}

// ValidateAPIKey returns the stored key record when apiKey hashes to an
// active row. Any other outcome is domain.ErrInvalidAPIKey.
func (a *Authenticator) ValidateAPIKey(ctx context.Context, apiKey string) (*domain.APIKey, error) {
	if apiKey == "" {
		return nil, domain.ErrInvalidAPIKey
	}

	keyHash := HashAPIKey(apiKey)
	k, err := a.keys.GetAPIKey(ctx, keyHash)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(k.KeyHash)) != 1 || !k.Active {
		return nil, domain.ErrInvalidAPIKey
	}
	return k, nil
}

// ExtractAPIKey reads the key from X-API-Key, falling back to a Bearer
// Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key, nil
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing %s header", HeaderAPIKey)
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}
	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
