package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewLoginSessionID generates a unique login session ID with the "login_" prefix
func NewLoginSessionID() string {
	return "login_" + uuid.New().String()
}

// NewAutomationID generates a unique automation ID with the "auto_" prefix
func NewAutomationID() string {
	return "auto_" + uuid.New().String()
}

// NewLeaseToken generates an opaque owner token for lock leases
func NewLeaseToken() string {
	return uuid.New().String()
}
