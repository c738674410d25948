package consts

import "time"

// Sandbox resource limits
const (
	// DefaultSandboxMemoryLimit is the per-context memory ceiling for guest code
	DefaultSandboxMemoryLimit = 128 * 1024 * 1024
	// MaxGuestSourceBytes is the maximum accepted size of guest module source
	MaxGuestSourceBytes = 1024 * 1024
	// MaxBridgeResponseBytes caps the payload a bridge call may hand to the guest
	MaxBridgeResponseBytes = 10 * 1024 * 1024
	// MaxGuestCallStackDepth bounds recursion inside a guest context
	MaxGuestCallStackDepth = 4096
)

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
)

// Sandbox lifecycle timeouts
const (
	// DefaultLoadTimeout bounds compiling and running a guest module at load time
	DefaultLoadTimeout = Timeout30Seconds
	// DefaultCallTimeout bounds a single guest tool call
	DefaultCallTimeout = Timeout30Seconds
	// DefaultListToolsTimeout bounds reading the guest's exported tool list
	DefaultListToolsTimeout = Timeout5Seconds
	// DefaultFetchTimeout bounds an HTTP request made on behalf of a guest
	DefaultFetchTimeout = Timeout30Seconds
)
