// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName        = errors.New("invalid application name")
	ErrInvalidEnvironment    = errors.New("invalid environment")
	ErrInvalidVersion        = errors.New("invalid application version")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidPort           = errors.New("invalid port number")
	ErrInvalidMailboxSize    = errors.New("invalid mailbox size")
	ErrInvalidRingBufferSize = errors.New("invalid ring buffer size")
	ErrInvalidCore           = errors.New("invalid core affinity")
	ErrInvalidQueueLength    = errors.New("invalid work queue length")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound = errors.New("configuration file not found")
	ErrUnsupportedFormat  = errors.New("unsupported configuration format")
)
