package conn

import "errors"

var (
	// ErrInvalidConfiguration is returned by Init for a missing broker
	// address or client id, or an out-of-range QoS level.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotInitialized is returned by operations called before Init.
	ErrNotInitialized = errors.New("manager not initialized")

	// ErrAlreadyInitialized is returned by Init when called twice
	// without an intervening Destroy.
	ErrAlreadyInitialized = errors.New("manager already initialized")
)
