package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/xflash-panda/guestaddr/pkg/cache"
	"github.com/xflash-panda/guestaddr/pkg/machine"
	"github.com/xflash-panda/guestaddr/pkg/strategy"
)

// ErrNotReady is returned when a machine has no command session yet.
var ErrNotReady = errors.New("machine has no command session")

// Resolver finds the address of machines and caches it for the lifetime of
// its cache. It is safe for concurrent use.
type Resolver struct {
	runner         machine.Runner
	cache          *cache.AddressCache
	registry       *strategy.Registry
	logger         logr.Logger
	warn           func(string)
	commandTimeout time.Duration
	concurrency    int
	metrics        *metrics

	sf    singleflight.Group
	locks sync.Map // machine name -> chan struct{} holding one token
}

// New creates a new Resolver running commands through runner.
func New(runner machine.Runner, opts ...Option) *Resolver {
	options := &resolverOptions{
		commandTimeout: defaultCommandTimeout,
		concurrency:    defaultConcurrency,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.cache == nil {
		options.cache = cache.New()
	}
	if options.registry == nil {
		options.registry = strategy.DefaultRegistry()
	}
	logger := defaultLogger()
	if options.hasLogger {
		logger = options.logger
		if logger.GetSink() == nil {
			logger = logr.Discard()
		}
	}
	if options.concurrency <= 0 {
		options.concurrency = defaultConcurrency
	}

	r := &Resolver{
		runner:         runner,
		cache:          options.cache,
		registry:       options.registry,
		logger:         logger,
		warn:           options.warn,
		commandTimeout: options.commandTimeout,
		concurrency:    options.concurrency,
		metrics:        newMetrics(options.registerer),
	}
	if r.warn == nil {
		r.warn = r.logWarning
	}
	return r
}

// Cache returns the cache the resolver fills.
func (r *Resolver) Cache() *cache.AddressCache {
	return r.cache
}

// Resolve returns the address of m as seen from p. A cached address is
// returned without running any command. An empty address with a nil error
// means the guest reported no usable address; a warning has been emitted
// and a later call may try again. Errors leave the cache untouched.
//
// Callers asking for the same key share one resolution, but each returns as
// soon as its own ctx is done. When the caller running the shared resolution
// gives up, the others start a new one.
func (r *Resolver) Resolve(ctx context.Context, m machine.Machine, p machine.Perspective) (string, error) {
	s := r.registry.For(m.Provider())
	key := s.Key(m.Name(), p)
	if addr, ok := r.cache.Get(key); ok {
		r.metrics.cacheHits.Inc()
		return addr, nil
	}
	r.metrics.cacheMisses.Inc()

	if !m.Ready() {
		r.metrics.resolutions.WithLabelValues(m.Provider(), outcomeNotReady).Inc()
		return "", fmt.Errorf("resolve %s: %w", key, ErrNotReady)
	}

	for {
		ch := r.sf.DoChan(key, func() (any, error) {
			return r.resolve(ctx, s, key, m, p)
		})
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", key, ctx.Err())
		case res := <-ch:
			if res.Shared {
				r.metrics.shared.Inc()
			}
			var cerr *callerDoneError
			if errors.As(res.Err, &cerr) && ctx.Err() == nil {
				// The flight belonged to a caller that gave up; run our own.
				continue
			}
			if res.Err != nil {
				return "", res.Err
			}
			return res.Val.(string), nil
		}
	}
}

// callerDoneError reports that the context of the caller running a shared
// resolution ended before the resolution did.
type callerDoneError struct {
	err error
}

func (e *callerDoneError) Error() string { return e.err.Error() }
func (e *callerDoneError) Unwrap() error { return e.err }

func (r *Resolver) resolve(ctx context.Context, s strategy.Strategy, key string, m machine.Machine, p machine.Perspective) (string, error) {
	unlock, err := r.lockMachine(ctx, m.Name())
	if err != nil {
		return "", &callerDoneError{err: fmt.Errorf("resolve %s: %w", key, err)}
	}
	defer unlock()

	// Another key-sharing caller may have filled the entry while we waited.
	if addr, ok := r.cache.Get(key); ok {
		return addr, nil
	}

	logger := r.logger.WithValues("machine", m.Name(), "provider", m.Provider(), "perspective", p.String())
	start := time.Now()
	res, err := s.Resolve(ctx, m, p, &timeoutRunner{runner: r.runner, timeout: r.commandTimeout})
	r.metrics.duration.WithLabelValues(m.Provider()).Observe(time.Since(start).Seconds())

	for _, w := range res.Warnings {
		r.warn(w)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err == nil {
			err = ctxErr
		}
		r.metrics.resolutions.WithLabelValues(m.Provider(), outcomeFailed).Inc()
		logger.V(1).Info("address resolution abandoned", "key", key, "error", err.Error())
		return "", &callerDoneError{err: fmt.Errorf("resolve %s: %w", key, err)}
	}
	if err != nil {
		r.metrics.resolutions.WithLabelValues(m.Provider(), outcomeFailed).Inc()
		logger.V(1).Info("address resolution failed", "key", key, "error", err.Error())
		return "", fmt.Errorf("resolve %s: %w", key, err)
	}
	if res.Address == "" {
		r.metrics.resolutions.WithLabelValues(m.Provider(), outcomeAbsent).Inc()
		logger.V(1).Info("no usable address", "key", key)
		return "", nil
	}

	r.cache.Put(key, res.Address)
	r.metrics.resolutions.WithLabelValues(m.Provider(), outcomeResolved).Inc()
	logger.V(1).Info("resolved address", "key", key, "address", res.Address)
	return res.Address, nil
}

// lockMachine serializes command sessions on one machine. It gives up when
// ctx is done before the machine is free.
func (r *Resolver) lockMachine(ctx context.Context, name string) (func(), error) {
	v, _ := r.locks.LoadOrStore(name, make(chan struct{}, 1))
	sem := v.(chan struct{})
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) logWarning(msg string) {
	r.logger.Info(msg, "warning", true)
}

// timeoutRunner bounds every command with its own deadline.
type timeoutRunner struct {
	runner  machine.Runner
	timeout time.Duration
}

func (t *timeoutRunner) Run(ctx context.Context, m machine.Machine, command string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	out, err := t.runner.Run(ctx, m, command)
	if err == nil {
		// Output that arrives after the deadline is not trusted.
		err = ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return out, nil
}
