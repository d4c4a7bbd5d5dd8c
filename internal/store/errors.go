package store

import "certifychain/pkg/platform/sentinel"

// Re-export the sentinels stores return so callers don't import the platform
// package for the common cases.
var (
	ErrNotFound = sentinel.ErrNotFound
	ErrConflict = sentinel.ErrConflict
)
