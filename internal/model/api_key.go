package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the RBAC role carried by an API key or token.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleReader Role = "reader"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateRole checks that r is a known role.
func ValidateRole(r Role) error {
	switch r {
	case RoleAdmin, RoleEditor, RoleReader:
		return nil
	default:
		return fmt.Errorf("invalid role %q", r)
	}
}

// APIKey is a managed credential. Multiple keys can exist per deployment,
// enabling rotation and per-environment credentials.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Prefix     string     `json:"prefix"`
	KeyHash    string     `json:"-"` // Never serialized.
	Label      string     `json:"label"`
	Role       Role       `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// APIKeyWithRawKey is returned only on creation — the only time the raw key
// is available. After this, only the prefix is visible.
type APIKeyWithRawKey struct {
	APIKey
	RawKey string `json:"raw_key"`
}

// CreateKeyRequest is the request body for POST /v1/keys.
type CreateKeyRequest struct {
	Label     string  `json:"label"`
	Role      Role    `json:"role"`
	ExpiresAt *string `json:"expires_at,omitempty"` // RFC3339
}

const (
	// keyPrefixLen is the number of random bytes used for the key prefix (8 hex chars).
	keyPrefixLen = 4
	// keySecretLen is the number of random bytes for the secret portion (32 hex chars).
	keySecretLen = 16
	// keyFormatPrefix is the static prefix for all TaskLedger API keys.
	keyFormatPrefix = "tl_"
)

// GenerateRawKey produces a new raw API key in the format
// tl_<8-char-prefix>_<32-char-secret>. Returns the full raw key and the
// prefix separately.
func GenerateRawKey() (rawKey, prefix string, err error) {
	prefixBytes := make([]byte, keyPrefixLen)
	if _, err := rand.Read(prefixBytes); err != nil {
		return "", "", fmt.Errorf("model: generate key prefix: %w", err)
	}

	secretBytes := make([]byte, keySecretLen)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("model: generate key secret: %w", err)
	}

	prefix = hex.EncodeToString(prefixBytes)
	secret := hex.EncodeToString(secretBytes)
	rawKey = keyFormatPrefix + prefix + "_" + secret

	return rawKey, prefix, nil
}

// ParseRawKey extracts the prefix from a raw key string.
// Returns an error if the format is invalid.
func ParseRawKey(rawKey string) (prefix string, err error) {
	if !strings.HasPrefix(rawKey, keyFormatPrefix) {
		return "", fmt.Errorf("model: invalid key format: missing %s prefix", keyFormatPrefix)
	}

	rest := rawKey[len(keyFormatPrefix):]
	underIdx := strings.IndexByte(rest, '_')
	if underIdx < 1 || underIdx == len(rest)-1 {
		return "", fmt.Errorf("model: invalid key format: expected tl_<prefix>_<secret>")
	}

	return rest[:underIdx], nil
}

// ValidateKeyLabel checks that a key label is reasonable.
func ValidateKeyLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label is required")
	}
	if len(label) > 255 {
		return fmt.Errorf("label must be at most 255 characters")
	}
	return nil
}
