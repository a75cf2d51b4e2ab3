package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

// Request asks for the address of a machine seen from a perspective.
type Request struct {
	Machine     machine.Machine
	Perspective machine.Perspective
}

// Outcome is the result of one Request.
type Outcome struct {
	Request
	Address string
	Err     error
}

// ResolveAll resolves every request, running up to the configured concurrency
// at once. Outcomes are returned in request order; a failed request does not
// stop the others.
func (r *Resolver) ResolveAll(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			addr, err := r.Resolve(ctx, req.Machine, req.Perspective)
			outcomes[i] = Outcome{Request: req, Address: addr, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
