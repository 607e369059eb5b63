package models

import "errors"

var (
	// ErrInvalidCredentialSet is returned when a credential set is missing a mandatory token.
	// Such sets are rejected at ingestion and never stored.
	ErrInvalidCredentialSet = errors.New("invalid credential set")

	// ErrCredentialNotFound is returned when no credential set is stored for an account
	ErrCredentialNotFound = errors.New("credential set not found")

	// ErrCredentialInvalid is returned when the stored credential set was invalidated
	// by the platform and a new login is required before it can be used again
	ErrCredentialInvalid = errors.New("credential set invalidated, re-login required")

	ErrSessionNotFound    = errors.New("login session not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrInvalidAutomation is returned when an automation fails validation, including its schedule
	ErrInvalidAutomation = errors.New("invalid automation")

	// ErrInvalidJob is returned when a job kind or payload fails validation at enqueue time
	ErrInvalidJob = errors.New("invalid job")

	// ErrJobTerminal is returned when a transition is attempted on a succeeded, failed or dead-lettered job
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrConcurrencyConflict is returned when the per-account execution lock is held by another worker
	ErrConcurrencyConflict = errors.New("account execution lock is held")
)
