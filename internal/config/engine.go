package config

import "time"

// EngineConfig tunes the resolution pipeline.
type EngineConfig struct {
	// LoaderCacheCapacity bounds the conditional-rule loader cache. One
	// entry per distinct (specification, rollout identity) pair.
	LoaderCacheCapacity int `envconfig:"LOADER_CACHE_CAPACITY" default:"4096" validate:"min=16"`

	// LoaderCacheTTL bounds staleness of cached loaded-rule sets. Spec
	// replacements invalidate eagerly; the TTL covers everything else,
	// such as time-dependent custom gates.
	LoaderCacheTTL time.Duration `envconfig:"LOADER_CACHE_TTL" default:"30s" validate:"min=1s"`
}
