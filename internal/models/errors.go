package models

import "errors"

var (
	// ErrDuplicateRun means another run already holds the (portfolio, date) snapshot slot.
	ErrDuplicateRun = errors.New("snapshot slot already claimed")

	// ErrPriceUnavailable means no price exists within the fallback window.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInsufficientData means a regression had too few aligned observations.
	ErrInsufficientData = errors.New("insufficient observations")

	// ErrNotFound is returned by stores when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
)
