package secrets

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-smsbroker/core"
)

// EnvelopePrefix marks configuration values that hold an encrypted secret
// instead of plaintext. Provider API keys and webhook secrets carrying the
// prefix are decrypted before use.
const EnvelopePrefix = "smsbroker.secret.v1:"

// IsEnvelope reports whether a configuration value is an encrypted envelope.
func IsEnvelope(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), EnvelopePrefix)
}

// Resolve returns the plaintext for a configuration value, decrypting it when
// it carries the envelope prefix. Plain values pass through untouched.
func Resolve(ctx context.Context, provider core.SecretProvider, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsEnvelope(trimmed) {
		return trimmed, nil
	}
	if provider == nil {
		return "", fmt.Errorf("secrets: value is encrypted but no secret provider is configured")
	}
	plaintext, err := provider.Decrypt(ctx, []byte(trimmed))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

type Option func(*AppKeyProvider)

// AppKeyProvider seals secrets with AES-256-GCM under a key derived from the
// deployment's application key. Key material shorter or longer than an AES
// key size is hashed down to 32 bytes.
type AppKeyProvider struct {
	key     []byte
	keyID   string
	version int
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func WithKeyID(id string) Option {
	return func(provider *AppKeyProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeyProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

func NewAppKeyProvider(keyMaterial []byte, opts ...Option) (*AppKeyProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("secrets: key material is required")
	}
	provider := &AppKeyProvider{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func NewAppKeyProviderFromString(key string, opts ...Option) (*AppKeyProvider, error) {
	return NewAppKeyProvider([]byte(key), opts...)
}

func (p *AppKeyProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("secrets: provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("secrets: plaintext is required")
	}
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secrets: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	data, err := json.Marshal(envelope{
		KeyID:      p.keyID,
		Version:    p.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("secrets: encode envelope: %w", err)
	}

	return append([]byte(EnvelopePrefix), data...), nil
}

func (p *AppKeyProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("secrets: provider is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("secrets: ciphertext is required")
	}

	payload := strings.TrimPrefix(string(ciphertext), EnvelopePrefix)
	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("secrets: decode envelope: %w", err)
	}

	if parsed.KeyID != "" && parsed.KeyID != p.keyID {
		return nil, fmt.Errorf("secrets: key id mismatch: got %q want %q", parsed.KeyID, p.keyID)
	}
	if parsed.Version > 0 && parsed.Version != p.version {
		return nil, fmt.Errorf("secrets: key version mismatch: got %d want %d", parsed.Version, p.version)
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode ciphertext payload: %w", err)
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeyProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *AppKeyProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.version
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*AppKeyProvider)(nil)
