package config

import "time"

const (
	// Quota & validation
	SwapMessageLimit     = 2
	SwapMaxContentLength = 7

	// Negotiation
	DefaultSwapDuration = 5 * time.Minute
	MaxSwapDuration     = 60 * time.Minute
	StaleRequestAfter   = 2 * time.Minute
	RequestSafetyNet    = 10 * time.Minute
	ActivationDelay     = 2 * time.Second
	ExpiryNotifyGrace   = 500 * time.Millisecond
	SystemCancelledBy   = "system"

	// Store
	MaxStoreTxAttempts  = 3
	StoreTxRetryBackoff = 25 * time.Millisecond

	// Reconciliation
	DefaultSweepInterval = 10 * time.Second
)
