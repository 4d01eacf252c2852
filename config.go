package qcache

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// defaultsConfig is the YAML shape LoadDefaultOptions reads, externalizing
// the tunables this ecosystem typically hardcodes (staleTime, gcTime,
// retry, networkMode) instead of compiling them in.
type defaultsConfig struct {
	StaleTimeMS int64  `yaml:"stale_time_ms"`
	GCTimeMS    int64  `yaml:"gc_time_ms"`
	Retry       int    `yaml:"retry"`
	NetworkMode string `yaml:"network_mode"`
}

// LoadDefaultOptions reads a YAML defaults file and returns the equivalent
// QueryOptions, for use as a QueryClient's default query options before any
// query is built.
func LoadDefaultOptions(path string) (QueryOptions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return QueryOptions{}, errors.Wrapf(err, "qcache: reading defaults file %q", path)
	}

	var cfg defaultsConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return QueryOptions{}, errors.Wrapf(err, "qcache: parsing defaults file %q", path)
	}

	opts := QueryOptions{
		StaleTime: DefaultStaleTime,
		GCTime:    DefaultGCTime,
	}
	if cfg.StaleTimeMS > 0 {
		opts.StaleTime = time.Duration(cfg.StaleTimeMS) * time.Millisecond
	}
	if cfg.GCTimeMS > 0 {
		opts.GCTime = time.Duration(cfg.GCTimeMS) * time.Millisecond
	}
	if cfg.Retry > 0 {
		opts.Retry = RetryCount(cfg.Retry)
	}
	switch cfg.NetworkMode {
	case "always":
		opts.NetworkMode = NetworkAlways
	case "offlineFirst":
		opts.NetworkMode = NetworkOfflineFirst
	default:
		opts.NetworkMode = NetworkOnline
	}
	return opts, nil
}
