package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// API key format constants.
	randomBytesSize = 32
	apiKeyPrefix    = "procpulse_ak_"
	apiKeyLength    = len(apiKeyPrefix) + randomBytesSize*2
	maskPrefixLen   = 17 // Show "procpulse_ak_1234"
	maskSuffixLen   = 4  // Show last 4 chars

	// bcryptCost 10 is roughly 60ms per hash; raise to 12 for hardening.
	bcryptCost  = 10
	bcryptLimit = 72
)

var (
	// ErrKeyNil is returned when an empty API key is provided.
	ErrKeyNil = errors.New("API key cannot be empty")
	// ErrKeyNotFound is returned when no stored key matches.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrProducerEmpty is returned when the producer name is empty during key generation.
	ErrProducerEmpty = errors.New("producer name cannot be empty")
	// ErrKeyStringEmpty is returned when a key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// Key represents a producer API key. The plaintext value only exists at
// generation time; storage keeps a bcrypt hash plus a SHA-256 lookup digest.
type Key struct {
	ID        string     `json:"id"`
	Producer  string     `json:"producer"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
}

// Valid reports whether the key is active and unexpired.
func (k *Key) Valid() bool {
	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return false
	}

	return true
}

// GenerateAPIKey creates a new secure API key for a producer.
func GenerateAPIKey(producer string) (string, error) {
	if producer == "" {
		return "", ErrProducerEmpty
	}

	randomBytes := make([]byte, randomBytesSize)

	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts the API key from various header formats.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, apiKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}

// MaskKey masks an API key for secure logging by showing only the prefix and suffix.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	// For any other key length (testing, development, etc.), mask completely
	return strings.Repeat("*", keyLen)
}

// SecureCompare performs constant-time comparison of two strings to prevent timing attacks.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Compare against a dummy of the same length to keep timing flat
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashAPIKey generates a bcrypt hash of the API key for secure storage.
// The plaintext is never persisted.
//
// Bcrypt has a 72-byte input limit; longer keys are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash checks an API key against its stored bcrypt hash.
// Returns false for any error condition (empty inputs, malformed hash).
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

// LookupDigest returns the hex SHA-256 of the key, used as the indexed
// lookup column so verification needs exactly one bcrypt comparison.
func LookupDigest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))

	return hex.EncodeToString(sum[:])
}

func bcryptInput(apiKey string) []byte {
	if len(apiKey) > bcryptLimit {
		sum := sha256.Sum256([]byte(apiKey))

		return sum[:]
	}

	return []byte(apiKey)
}
