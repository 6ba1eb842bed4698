package pypi

import "errors"

// Error kinds surfaced by a Source, mapped onto HTTP statuses by the server.
var (
	// ErrUpstreamUnavailable means the upstream failed and no cached copy
	// covers the request.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidName means a project name contains characters that cannot
	// be normalized into a cache key.
	ErrInvalidName = errors.New("invalid project name")
)
