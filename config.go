package vtrt

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the runtime-wide tunables that are otherwise build-time or
// implementation-defined constants (eager threshold, forward-hop bound,
// wave period) plus the local-transport node count. Loaded from a TOML
// file via BurntSushi/toml; CLI/config parsing itself is left to callers,
// but the struct the core reads its tunables from lives here.
type Config struct {
	// NumNodes is the size of the transport world when using a local,
	// in-process transport. Ignored by transports that derive rank count
	// from their own collective init.
	NumNodes int `toml:"num_nodes"`

	// EagerThreshold is the inline-serialize cutoff in bytes; messages at or
	// under this size take the eager send path, larger ones the rendezvous
	// path.
	EagerThreshold int `toml:"eager_threshold"`

	// ForwardHopBound is K, the maximum number of location-manager forwards
	// before falling back to a home query.
	ForwardHopBound int `toml:"forward_hop_bound"`

	// WavePeriodMillis is the period between collective-epoch termination
	// wave reductions.
	WavePeriodMillis int `toml:"wave_period_millis"`

	// LocationCacheSize bounds the location manager's LRU cache.
	LocationCacheSize int `toml:"location_cache_size"`

	// OTelEnabled is loaded from the config file (DOMAIN STACK); no package
	// in this module reads it, and telemetry is set up only by calling
	// telemetry.Init.
	OTelEnabled bool `toml:"otel_enabled"`
}

// WavePeriod returns WavePeriodMillis as a time.Duration.
func (c Config) WavePeriod() time.Duration {
	return time.Duration(c.WavePeriodMillis) * time.Millisecond
}

// DefaultConfig returns reasonable out-of-the-box tunables: a 4KB eager
// threshold, a 3-hop forward bound, a 10ms wave period, and a 1024-entry
// location cache.
func DefaultConfig() Config {
	return Config{
		NumNodes:          1,
		EagerThreshold:    4096,
		ForwardHopBound:   3,
		WavePeriodMillis:  10,
		LocationCacheSize: 1024,
		OTelEnabled:       false,
	}
}

// LoadConfig reads a TOML config file, filling any fields it omits from
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
