package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrStaleData             = errors.New("stale data")
	ErrUnavailable           = errors.New("feed unavailable")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrBridgeUnavailable     = errors.New("bridge unavailable")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrReverted              = errors.New("transaction reverted")
	ErrStepTimeout           = errors.New("step confirmation timed out")
	ErrRouteLocked           = errors.New("route already has an execution in flight")
	ErrBreakerHalted         = errors.New("circuit breaker halted")
	ErrLockHeld              = errors.New("lock already held")
	ErrContextDone           = errors.New("context cancelled")
)
