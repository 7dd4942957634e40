package core

import "errors"

// Capacity errors
var (
	ErrNoIDAvailable = errors.New("no identifier available")
	ErrMailboxFull   = errors.New("mailbox full")
	ErrBufferFull    = errors.New("ring buffer full")
	ErrLockTimeout   = errors.New("unable to take ring buffer lock")
	ErrItemTooLarge  = errors.New("item larger than ring buffer")
)

// Addressing and lifecycle errors
var (
	ErrActorNotFound  = errors.New("actor not found")
	ErrNotDataActor   = errors.New("actor has no ring buffer")
	ErrTimeout        = errors.New("timeout")
	ErrActorStopped   = errors.New("actor stopped")
	ErrAlreadyStarted = errors.New("task already started")
)

// Misuse errors
var (
	ErrNilDestination = errors.New("nil destination")
	ErrNilPayload     = errors.New("nil or empty payload")
	ErrNilJob         = errors.New("job has no function")
)

// Protocol errors, logged by the work queue loop
var (
	ErrJobSize                = errors.New("invalid job descriptor size")
	ErrUnexpectedNotification = errors.New("unexpected notification")
	ErrUnknownJob             = errors.New("unknown job")
)
