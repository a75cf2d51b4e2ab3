package machine

import "context"

// Provider names known to the built-in strategies.
const (
	ProviderVirtualBox = "virtualbox"
	ProviderAWS        = "aws"
)

// Perspective tells from where an address is going to be used.
type Perspective int

const (
	FromHost Perspective = iota // The orchestrating host
	FromPeer                    // Another guest of the same run
)

// String returns the perspective name.
func (p Perspective) String() string {
	switch p {
	case FromHost:
		return "host"
	case FromPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Machine is a provisioned compute instance as seen by the resolver.
// It is owned by the provisioning tool; the resolver only reads it.
type Machine interface {
	// Name is the identity of the machine within a provisioning run.
	Name() string
	// Provider is the infrastructure backend managing the machine.
	Provider() string
	// Ready reports whether a command session can be established,
	// e.g. the machine is booted and its SSH host is known.
	Ready() bool
}

// Runner executes a shell command on a machine and returns its textual output.
// A non-nil error means the command could not run or exited unsuccessfully.
// Run must return once ctx is done.
type Runner interface {
	Run(ctx context.Context, m Machine, command string) (string, error)
}

// RunnerFunc adapts an ordinary function to the Runner interface.
type RunnerFunc func(ctx context.Context, m Machine, command string) (string, error)

// Run calls f(ctx, m, command).
func (f RunnerFunc) Run(ctx context.Context, m Machine, command string) (string, error) {
	return f(ctx, m, command)
}

// Static is a Machine with fixed attributes.
type Static struct {
	MachineName     string
	MachineProvider string
	SessionReady    bool
}

// NewStatic creates a new Static machine.
func NewStatic(name, provider string, ready bool) *Static {
	return &Static{
		MachineName:     name,
		MachineProvider: provider,
		SessionReady:    ready,
	}
}

// Name returns the machine name.
func (s *Static) Name() string { return s.MachineName }

// Provider returns the provider managing the machine.
func (s *Static) Provider() string { return s.MachineProvider }

// Ready reports whether the machine accepts commands.
func (s *Static) Ready() bool { return s.SessionReady }
