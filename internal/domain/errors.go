package domain

import "errors"

var (
	// ErrTransportFailure marks a failed fetch from the remote catalog.
	ErrTransportFailure = errors.New("catalog transport failure")

	// ErrStoreFailure marks a failed local store operation. A failed
	// replace leaves the previous dataset intact.
	ErrStoreFailure = errors.New("local store failure")
)
