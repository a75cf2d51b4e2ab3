package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

// Strategy defines how the address of a machine is discovered for a provider.
type Strategy interface {
	// Key returns the cache key for the named machine seen from p.
	Key(name string, p machine.Perspective) string
	// Resolve discovers the address of m. An empty Result.Address with a nil
	// error means no usable address was found; a non-nil error means a
	// command could not be run and the attempt may be retried later.
	Resolve(ctx context.Context, m machine.Machine, p machine.Perspective, r machine.Runner) (Result, error)
}

// Result is the outcome of a resolution attempt.
type Result struct {
	Address  string   // Resolved address, empty if none
	Warnings []string // Human-readable warnings for the operator
}

func run(ctx context.Context, r machine.Runner, m machine.Machine, command string) (string, error) {
	out, err := r.Run(ctx, m, command)
	if err != nil {
		return "", fmt.Errorf("run %q on %s: %w", command, m.Name(), err)
	}
	return out, nil
}

// selectCandidate picks the address among candidates in the order the guest
// reported them. No disambiguation is attempted beyond taking the first one.
func selectCandidate(name, provider string, candidates []string) Result {
	switch len(candidates) {
	case 0:
		return Result{
			Warnings: []string{fmt.Sprintf("Trying to find out ip for %s (%s), found none usable.", name, provider)},
		}
	case 1:
		return Result{Address: candidates[0]}
	default:
		return Result{
			Address: candidates[0],
			Warnings: []string{fmt.Sprintf("Trying to find out ip for %s (%s), found too many: [%s] and cannot choose cleverly. Will select the first one.",
				name, provider, strings.Join(candidates, " "))},
		}
	}
}
