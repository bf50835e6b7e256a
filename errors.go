package wasmpkg

import "errors"

var (
	// ErrOffline is returned by operations that need the network while the
	// manager runs offline. Nothing was attempted.
	ErrOffline  = errors.New("wasmpkg: offline mode, network access disabled")
	ErrNotFound = errors.New("wasmpkg: not found")
)
