// Package common defines shared constants and sentinel errors used across
// the scanstore components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Configuration errors (fatal, checked at startup).
	ErrInvalidKeyLength     = errors.New("master key must decode to exactly 32 bytes")
	ErrInvalidKeyEncoding   = errors.New("master key is neither valid hex nor base64")
	ErrInvalidSigningSecret = errors.New("signing secret must be 64 hex characters")
	ErrMissingDSN           = errors.New("database DSN is required")

	// Schema errors (degraded mode, not fatal).
	ErrSchemaDegraded = errors.New("schema setup failed, store is degraded")

	// Isolation errors (user-facing, recoverable).
	ErrIsolationDenied  = errors.New("isolation denied")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrTenantSuspended  = errors.New("tenant suspended")
	ErrQuotaExceeded    = errors.New("monthly scan quota exceeded")
	ErrBypassNeedReason = errors.New("isolation bypass requires a reason")

	// Store errors (recoverable, routed to fallback).
	ErrStoreUnavailable = errors.New("primary store unavailable")

	// Repository-level errors.
	ErrAlreadyExists = errors.New("already exists")

	// Per-record crypto errors.
	ErrDecrypt  = errors.New("decryption failed")
	ErrStaleKey = errors.New("record encrypted under a rotated key")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
