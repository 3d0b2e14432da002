// Package cryptox implements field-level encryption for scan result
// payloads: AES-256-GCM with a per-organization subkey derived from the
// master key via HKDF. Each ciphertext is prefixed with a short fingerprint
// of the master key so records written under a rotated key are detectable.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/complyscan/scanstore/internal/common"
)

const (
	// MasterKeySize is the required length of the master key in bytes.
	MasterKeySize = 32

	nonceSize       = 12
	fingerprintSize = 4
)

// Encryptor encrypts and decrypts result payloads. Metadata fields stay in
// plaintext; only the payload blob passes through here.
type Encryptor struct {
	masterKey   []byte
	fingerprint [fingerprintSize]byte
}

// NewEncryptor validates the master key length and returns an Encryptor.
// Any length other than 32 bytes is a configuration error.
func NewEncryptor(masterKey []byte) (*Encryptor, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", common.ErrInvalidKeyLength, len(masterKey))
	}

	e := &Encryptor{masterKey: masterKey}
	sum := sha256.Sum256(masterKey)
	copy(e.fingerprint[:], sum[:fingerprintSize])
	return e, nil
}

// Fingerprint returns the short identifier of the active master key.
func (e *Encryptor) Fingerprint() []byte {
	fp := make([]byte, fingerprintSize)
	copy(fp, e.fingerprint[:])
	return fp
}

// orgKey derives the per-organization data key. Deterministic for a given
// (master key, organization) pair, distinct across organizations, so a
// ciphertext can never decrypt under another tenant's key even if row
// scoping failed upstream.
func (e *Encryptor) orgKey(organizationID string) ([]byte, error) {
	r := hkdf.New(sha256.New, e.masterKey, nil, []byte("scanstore/v1/"+organizationID))
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext for the given organization. The output layout is
// fingerprint(4) || nonce(12) || AES-GCM ciphertext.
func (e *Encryptor) Encrypt(organizationID string, plaintext []byte) ([]byte, error) {
	key, err := e.orgKey(organizationID)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, fingerprintSize+nonceSize+len(plaintext)+aesgcm.Overhead())
	out = append(out, e.fingerprint[:]...)
	out = append(out, nonce...)
	out = aesgcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. A fingerprint that does not
// match the active master key yields ErrStaleKey so callers can distinguish
// key rotation from corruption; any other failure yields ErrDecrypt.
func (e *Encryptor) Decrypt(organizationID string, blob []byte) ([]byte, error) {
	if len(blob) < fingerprintSize+nonceSize {
		return nil, fmt.Errorf("%w: blob too short", common.ErrDecrypt)
	}

	if string(blob[:fingerprintSize]) != string(e.fingerprint[:]) {
		return nil, common.ErrStaleKey
	}

	key, err := e.orgKey(organizationID)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := blob[fingerprintSize : fingerprintSize+nonceSize]
	plaintext, err := aesgcm.Open(nil, nonce, blob[fingerprintSize+nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecrypt, err)
	}
	return plaintext, nil
}
