package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

// DefaultMetadataURL is the EC2 instance metadata path for the public IPv4 address.
const DefaultMetadataURL = "http://169.254.169.254/latest/meta-data/public-ipv4"

const (
	hostKeySuffix  = "--host"
	guestKeySuffix = "--guest"
)

// Cloud is a Strategy for cloud machines, which have a public address for the
// host and a private address for their peers.
type Cloud struct {
	metadataURL string
	private     *Generic
}

// CloudOption configures a Cloud strategy.
type CloudOption func(*Cloud)

// WithMetadataURL sets the URL fetched from inside the guest to learn its public address.
func WithMetadataURL(url string) CloudOption {
	return func(c *Cloud) {
		c.metadataURL = url
	}
}

// NewCloud creates a new Cloud strategy.
func NewCloud(opts ...CloudOption) *Cloud {
	c := &Cloud{
		metadataURL: DefaultMetadataURL,
		private:     NewGeneric(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key distinguishes the host and peer perspectives since their addresses differ.
func (c *Cloud) Key(name string, p machine.Perspective) string {
	if p == machine.FromPeer {
		return name + guestKeySuffix
	}
	return name + hostKeySuffix
}

// Resolve fetches the public address from the metadata endpoint for the host,
// and discovers the private address like any other guest for peers.
func (c *Cloud) Resolve(ctx context.Context, m machine.Machine, p machine.Perspective, r machine.Runner) (Result, error) {
	if p == machine.FromPeer {
		return c.private.Resolve(ctx, m, p, r)
	}
	out, err := run(ctx, r, m, c.metadataCommand())
	if err != nil {
		return Result{}, err
	}
	addr := strings.TrimSpace(out)
	if addr == "" {
		return Result{
			Warnings: []string{fmt.Sprintf("Metadata endpoint of %s (%s) returned no public ip.", m.Name(), m.Provider())},
		}, nil
	}
	return Result{Address: addr}, nil
}

func (c *Cloud) metadataCommand() string {
	return "curl -sf " + c.metadataURL
}
