package topology

import "errors"

// ErrClientNotFound is returned when an operation names a client ID that is
// not (or no longer) connected.
var ErrClientNotFound = errors.New("topology: client not found")
