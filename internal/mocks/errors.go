package mocks

import "errors"

var (
	errProviderDown = errors.New("mock provider unavailable")

	// ErrStoreDown is a generic storage failure for tests that need one.
	ErrStoreDown = errors.New("mock store unavailable")
)
