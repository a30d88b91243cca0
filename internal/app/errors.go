package app

import "errors"

var (
	ErrEntropySourceUnavailable = errors.New("entropy source unavailable")
	ErrExchangeInProgress       = errors.New("token exchange already in progress")
	ErrInvalid                  = errors.New("invalid operation")
	ErrInvalidTier              = errors.New("invalid tier")
	ErrMissingVerifier          = errors.New("missing code verifier")
	ErrNotAuthenticated         = errors.New("not authenticated")
	ErrNotFound                 = errors.New("object not found")
	ErrProfileFetchFailed       = errors.New("profile fetch failed")
	ErrReconcileFailed          = errors.New("reconciliation failed")
	ErrTokenExchangeFailed      = errors.New("token exchange failed")
)
