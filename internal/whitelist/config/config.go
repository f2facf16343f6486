// Package config holds tunables for the whitelist module. Business rules live
// in services; this package only carries their parameters.
package config

import "time"

// GatePolicy decides a gating identity check that cannot be resolved in time.
// The choice is user-visible: strict rejects on uncertainty, lenient admits.
// It must always be an explicit, recorded decision, never a silent default.
type GatePolicy string

const (
	GateStrict  GatePolicy = "strict"
	GateLenient GatePolicy = "lenient"
)

// IsValid checks if the policy is one of the supported values.
func (p GatePolicy) IsValid() bool {
	return p == GateStrict || p == GateLenient
}

// Config carries whitelist module tunables.
type Config struct {
	// GateTimeout bounds a gating membership check before the fallback policy applies.
	GateTimeout time.Duration

	// GatePolicy resolves gate checks that time out or hit store failures.
	GatePolicy GatePolicy

	// DrainInterval is how often the sync coordinator drains the task queue.
	DrainInterval time.Duration

	// PageSizeMax clamps paginated queries.
	PageSizeMax int
}

// DefaultConfig returns production defaults. The gate policy defaults to
// strict: an unverifiable subject is rejected, not admitted.
func DefaultConfig() *Config {
	return &Config{
		GateTimeout:   2 * time.Second,
		GatePolicy:    GateStrict,
		DrainInterval: 10 * time.Second,
		PageSizeMax:   100,
	}
}
