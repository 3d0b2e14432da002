// Package keys implements the key manager: it resolves the master
// encryption key and the API token signing secret from configuration,
// validates them at startup, and selects between key providers.
//
// Key material is validated here, once, so dependent services never see a
// malformed key at request time.
package keys

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/cryptox"
	"github.com/complyscan/scanstore/internal/logging"
	"github.com/complyscan/scanstore/internal/server/config"
)

// Manager holds the resolved key material for the lifetime of the process.
type Manager struct {
	masterKey     []byte
	signingSecret []byte
	provider      string
}

// MasterKey returns the 32-byte master encryption key.
func (m *Manager) MasterKey() []byte {
	return m.masterKey
}

// SigningSecret returns the validated token signing secret.
func (m *Manager) SigningSecret() []byte {
	return m.signingSecret
}

// ProviderName returns the name of the provider the key came from.
func (m *Manager) ProviderName() string {
	return m.provider
}

// Resolve validates the signing secret, selects a key provider, fetches the
// master key and enforces its length. Every failure here is a startup-fatal
// configuration error.
//
// A missing KMS configuration is not an error: it selects the local
// provider, which decodes the key from process configuration.
func Resolve(ctx context.Context, cfg *config.Config, log logging.Logger) (*Manager, error) {
	if err := ValidateSigningSecret(cfg.SigningSecret); err != nil {
		return nil, err
	}

	provider := SelectProvider(cfg)
	log.Debug(ctx, "key provider selected", "provider", provider.Name())

	key, err := provider.MasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving master key via %s: %w", provider.Name(), err)
	}

	if len(key) != cryptox.MasterKeySize {
		return nil, fmt.Errorf("%w: provider %s returned %d bytes",
			common.ErrInvalidKeyLength, provider.Name(), len(key))
	}

	return &Manager{
		masterKey:     key,
		signingSecret: []byte(cfg.SigningSecret),
		provider:      provider.Name(),
	}, nil
}

// SelectProvider picks the external provider when it is fully configured
// and falls back to the local one otherwise. Absent KMS configuration is a
// feature-disabled state, not an error.
func SelectProvider(cfg *config.Config) Provider {
	if cfg.KMSKeyID != "" && cfg.KMSWrappedKey != "" {
		return NewAWSKMSProvider(cfg)
	}
	return &LocalKeyProvider{Secret: cfg.MasterKeySecret}
}

// DecodeKeyMaterial decodes a configured secret into raw bytes. The on-wire
// encoding is a deployment detail, so hex and the base64 variants are all
// accepted; whichever decodes first wins.
func DecodeKeyMaterial(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return nil, common.ErrInvalidKeyEncoding
}

// ValidateSigningSecret enforces the expected shape of the token signing
// secret: 64 hex characters.
func ValidateSigningSecret(s string) error {
	if len(s) != 64 {
		return fmt.Errorf("%w: got %d characters", common.ErrInvalidSigningSecret, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidSigningSecret, err)
	}
	return nil
}
