package keys

import (
	"context"
	"fmt"

	"github.com/complyscan/scanstore/internal/common"
	"github.com/complyscan/scanstore/internal/cryptox"
)

// Provider supplies the master encryption key from some backing source.
type Provider interface {
	// Name identifies the provider in logs. Never includes key material.
	Name() string

	// MasterKey returns the raw key bytes.
	MasterKey(ctx context.Context) ([]byte, error)
}

// LocalKeyProvider reads the master key from process configuration.
type LocalKeyProvider struct {
	Secret string
}

func (p *LocalKeyProvider) Name() string { return "local" }

func (p *LocalKeyProvider) MasterKey(ctx context.Context) ([]byte, error) {
	key, err := DecodeKeyMaterial(p.Secret)
	if err != nil {
		return nil, err
	}
	if len(key) != cryptox.MasterKeySize {
		return nil, fmt.Errorf("%w: decoded %d bytes", common.ErrInvalidKeyLength, len(key))
	}
	return key, nil
}
