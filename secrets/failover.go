package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-smsbroker/core"
)

// FailoverProvider covers key rotation: new secrets are sealed with the
// primary key while envelopes written under retired keys stay readable until
// they are re-encrypted.
type FailoverProvider struct {
	providers []core.SecretProvider
}

func NewFailoverProvider(providers ...core.SecretProvider) (*FailoverProvider, error) {
	chain := make([]core.SecretProvider, 0, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		chain = append(chain, provider)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("secrets: failover requires at least one provider")
	}
	return &FailoverProvider{providers: chain}, nil
}

func (p *FailoverProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil || len(p.providers) == 0 {
		return nil, fmt.Errorf("secrets: failover provider is not configured")
	}
	return p.providers[0].Encrypt(ctx, plaintext)
}

func (p *FailoverProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil || len(p.providers) == 0 {
		return nil, fmt.Errorf("secrets: failover provider is not configured")
	}
	var errs []error
	for _, provider := range p.providers {
		plaintext, err := provider.Decrypt(ctx, ciphertext)
		if err == nil {
			return plaintext, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("secrets: all providers failed to decrypt: %w", errors.Join(errs...))
}

var _ core.SecretProvider = (*FailoverProvider)(nil)
