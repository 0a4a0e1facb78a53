package domain

import "errors"

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("domain: not found") //nolint:gochecknoglobals // sentinel error
