// Package common provides shared utilities for riskbatch
package common

import "time"

// Freshness TTLs for market store components
const (
	FreshnessCompanyProfile = 24 * time.Hour
	FreshnessFundamentals   = 7 * 24 * time.Hour // 7 days
)

// IsFresh returns true if the given timestamp is within the TTL
func IsFresh(updated time.Time, ttl time.Duration) bool {
	if updated.IsZero() {
		return false
	}
	return time.Since(updated) < ttl
}
