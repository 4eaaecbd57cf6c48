// Package clustrd executes shell commands and copies files in parallel
// across large node sets, with identical-output folding and hierarchical
// propagation through gateways. Task is the entry point; the engine,
// worker, nodeset, msgtree and tree packages underneath carry the
// mechanics.
package clustrd

import (
	"time"
)

// Defaults applied when the task config leaves an option unset.
const (
	DefaultFanout         = 64
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = time.Duration(0)
	DefaultGroomingDelay  = 250 * time.Millisecond
	DefaultFdMax          = 8192
)

// Recognized config option keys. Worker-level keys (ssh_user, ssh_path,
// ssh_options, topology, ...) pass through Info untouched.
const (
	OptFanout         = "fanout"
	OptConnectTimeout = "connect_timeout"
	OptCommandTimeout = "command_timeout"
	OptDebug          = "debug"
	OptPrintDebug     = "print_debug"
	OptStdin          = "stdin"
	OptDistantWorker  = "distant_worker"
	OptFdMax          = "fd_max"
)

// Config is the task's in-memory option dictionary.
type Config map[string]interface{}

func (c Config) intOr(key string, def int) int {
	if v, ok := c[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

func (c Config) durationOr(key string, def time.Duration) time.Duration {
	if v, ok := c[key]; ok {
		switch d := v.(type) {
		case time.Duration:
			return d
		case int:
			return time.Duration(d) * time.Second
		case float64:
			return time.Duration(d * float64(time.Second))
		}
	}
	return def
}

func (c Config) boolOr(key string, def bool) bool {
	if v, ok := c[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (c Config) stringOr(key string, def string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// Fanout returns the engine sliding-window size.
func (c Config) Fanout() int { return c.intOr(OptFanout, DefaultFanout) }

// ConnectTimeout returns the per-destination connect deadline.
func (c Config) ConnectTimeout() time.Duration {
	return c.durationOr(OptConnectTimeout, DefaultConnectTimeout)
}

// CommandTimeout returns the per-destination command deadline; zero
// means unbounded.
func (c Config) CommandTimeout() time.Duration {
	return c.durationOr(OptCommandTimeout, DefaultCommandTimeout)
}

// Debug reports whether diagnostic logging is enabled.
func (c Config) Debug() bool { return c.boolOr(OptDebug, false) }

// Stdin reports whether Shell plumbs stdin by default.
func (c Config) Stdin() bool { return c.boolOr(OptStdin, true) }

// DistantWorker names the worker flavor Shell uses for remote commands:
// ssh (default), rsh, sshnative, exec, or tree.
func (c Config) DistantWorker() string { return c.stringOr(OptDistantWorker, "ssh") }

// FdMax returns the soft file-descriptor limit the task raises itself
// to before starting.
func (c Config) FdMax() int { return c.intOr(OptFdMax, DefaultFdMax) }
