package resolver

import (
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xflash-panda/guestaddr/pkg/cache"
	"github.com/xflash-panda/guestaddr/pkg/strategy"
)

const (
	defaultCommandTimeout = 30 * time.Second
	defaultConcurrency    = 4
)

// Option configures the Resolver.
type Option func(*resolverOptions)

type resolverOptions struct {
	cache          *cache.AddressCache
	registry       *strategy.Registry
	logger         logr.Logger
	hasLogger      bool
	warn           func(string)
	commandTimeout time.Duration
	concurrency    int
	registerer     prometheus.Registerer
}

// WithCache sets the cache to fill. Callers sharing a cache across resolvers
// share their results. A new cache is created by default.
func WithCache(c *cache.AddressCache) Option {
	return func(o *resolverOptions) {
		o.cache = c
	}
}

// WithRegistry sets the strategies used per provider.
// strategy.DefaultRegistry is used by default.
func WithRegistry(reg *strategy.Registry) Option {
	return func(o *resolverOptions) {
		o.registry = reg
	}
}

// WithLogger sets the logger. Warnings go to it at info level unless a
// warning handler is set, and resolution details at V(1).
// By default warnings are written to stderr.
func WithLogger(logger logr.Logger) Option {
	return func(o *resolverOptions) {
		o.logger = logger
		o.hasLogger = true
	}
}

// WithWarningHandler sets the function receiving human-readable warnings.
func WithWarningHandler(fn func(string)) Option {
	return func(o *resolverOptions) {
		o.warn = fn
	}
}

// WithCommandTimeout bounds each command run on a machine. Zero disables the bound.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(o *resolverOptions) {
		o.commandTimeout = timeout
	}
}

// WithConcurrency sets how many resolutions ResolveAll runs at once.
func WithConcurrency(n int) Option {
	return func(o *resolverOptions) {
		o.concurrency = n
	}
}

// WithRegisterer registers the resolver metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *resolverOptions) {
		o.registerer = reg
	}
}

func defaultLogger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintln(os.Stderr, prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{})
}
