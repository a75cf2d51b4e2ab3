package strategy

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

const (
	osFamilyCommand      = "uname -o"
	listAddressesCommand = "hostname --all-ip-addresses"

	// DefaultProbeCacheSize is the number of machines whose OS family is remembered.
	DefaultProbeCacheSize = 256
)

// Generic is a Strategy that asks the guest for all addresses bound to its
// network interfaces and picks one. It is the default for local hypervisors
// and unknown providers.
type Generic struct {
	excluded map[string]struct{}
	// probed remembers, per machine name, whether the guest reported a Linux
	// family OS after an address was found for it.
	probed *lru.Cache[string, bool]
}

// GenericOption configures a Generic strategy.
type GenericOption func(*genericOptions)

type genericOptions struct {
	excluded       []string
	probeCacheSize int
}

// WithExcludedAddresses drops the given addresses from the guest's answer,
// e.g. a NAT address that is never reachable from the host.
func WithExcludedAddresses(addrs ...string) GenericOption {
	return func(o *genericOptions) {
		o.excluded = append(o.excluded, addrs...)
	}
}

// WithProbeCacheSize sets how many machines' OS family probes are remembered.
func WithProbeCacheSize(size int) GenericOption {
	return func(o *genericOptions) {
		o.probeCacheSize = size
	}
}

// NewGeneric creates a new Generic strategy.
func NewGeneric(opts ...GenericOption) *Generic {
	options := &genericOptions{
		probeCacheSize: DefaultProbeCacheSize,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.probeCacheSize <= 0 {
		options.probeCacheSize = DefaultProbeCacheSize
	}
	// Size is positive, so New cannot fail.
	probed, _ := lru.New[string, bool](options.probeCacheSize)

	excluded := make(map[string]struct{}, len(options.excluded))
	for _, addr := range options.excluded {
		excluded[addr] = struct{}{}
	}
	return &Generic{
		excluded: excluded,
		probed:   probed,
	}
}

// Key returns the machine name; the address does not depend on perspective.
func (g *Generic) Key(name string, _ machine.Perspective) string {
	return name
}

// Resolve probes the guest OS family, lists its addresses and selects one.
func (g *Generic) Resolve(ctx context.Context, m machine.Machine, _ machine.Perspective, r machine.Runner) (Result, error) {
	var warnings []string
	linux, probed, err := g.probeOSFamily(ctx, m, r)
	if err != nil {
		return Result{}, err
	}
	if !linux && probed {
		warnings = append(warnings, fmt.Sprintf("Guest for %s (%s) is not Linux, its address might not be found.", m.Name(), m.Provider()))
	}

	candidates, err := g.listAddresses(ctx, m, r)
	if err != nil {
		return Result{}, err
	}
	res := selectCandidate(m.Name(), m.Provider(), candidates)
	res.Warnings = append(warnings, res.Warnings...)
	if res.Address != "" && probed {
		g.probed.Add(m.Name(), linux)
	}
	return res, nil
}

// probeOSFamily reports whether the guest is Linux and whether it had to ask
// the guest. A guest is remembered once an address was found for it, so an
// attempt that found nothing probes and warns again on retry.
func (g *Generic) probeOSFamily(ctx context.Context, m machine.Machine, r machine.Runner) (linux, probed bool, err error) {
	if linux, ok := g.probed.Get(m.Name()); ok {
		return linux, false, nil
	}
	out, err := run(ctx, r, m, osFamilyCommand)
	if err != nil {
		return false, false, err
	}
	return strings.Contains(strings.ToLower(out), "linux"), true, nil
}

func (g *Generic) listAddresses(ctx context.Context, m machine.Machine, r machine.Runner) ([]string, error) {
	out, err := run(ctx, r, m, listAddressesCommand)
	if err != nil {
		return nil, err
	}
	var candidates []string
	for _, addr := range strings.Fields(out) {
		if _, ok := g.excluded[addr]; ok {
			continue
		}
		candidates = append(candidates, addr)
	}
	return candidates, nil
}
