package discovery

import "errors"

var (
	// ErrUnreachable indicates a device did not respond to a probe. Expected
	// and non-fatal; the device is simply not added this pass.
	ErrUnreachable = errors.New("device unreachable")

	// ErrProbeTimeout indicates a probe exceeded the per-probe timeout.
	ErrProbeTimeout = errors.New("probe timed out")

	// ErrAlreadyRunning is returned by StartDiscovery while a discovery run
	// is active. Recoverable; callers wait or stop the current run first.
	ErrAlreadyRunning = errors.New("discovery already running")

	// ErrUnknownProtocol is returned at construction for protocols with no
	// registered decoder.
	ErrUnknownProtocol = errors.New("unknown discovery protocol")
)
