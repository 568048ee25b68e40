package services

import "errors"

// Operational failures of the credential lifecycle. All are expected,
// user-correctable conditions returned as values; only storage or entropy
// failures surface as ordinary wrapped errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("expired")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrAlreadyEnabled  = errors.New("already enabled")
	ErrNotInitialized  = errors.New("not initialized")
	ErrInvalidCode     = errors.New("invalid code")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword = errors.New("invalid password")
	ErrDuplicateInvite = errors.New("duplicate pending invitation")
	ErrDuplicateMember = errors.New("duplicate member")
)
