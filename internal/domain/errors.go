package domain

import "errors"

var (
	// ErrInvalidQuery is returned when a search query is empty or oversized
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrStageUnavailable is returned when a match stage dependency fails or times out
	ErrStageUnavailable = errors.New("match stage unavailable")

	// ErrPersistence is returned when the missing-product store cannot be written
	ErrPersistence = errors.New("missing product persistence failed")

	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrOrphanVariant is returned when a variant references an unknown canonical fragrance
	ErrOrphanVariant = errors.New("variant references unknown canonical fragrance")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrProviderUnavailable is returned when no embedding provider is eligible
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)
