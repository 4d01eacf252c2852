package qcache

import "github.com/hashicorp/go-hclog"

// NewLogger constructs the structured logger QueryClient and its caches log
// through, replacing an ad hoc log.Printf("[DEBUG] ...")
// call sites with hclog's leveled, key/value structured output.
func NewLogger(name string, level hclog.Level) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: level,
	})
}

// NullLogger returns a logger that discards everything, the default so the
// engine is silent unless a caller opts in.
func NullLogger() hclog.Logger {
	return hclog.NewNullLogger()
}
