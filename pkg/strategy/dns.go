package strategy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

const (
	defaultDNSTimeout = 2 * time.Second
	defaultDNSRetries = 2
	dnsPort           = "53"
	dnsOverTLSPort    = "853"

	maxCNAMEDepth = 8
)

// DNS is a Strategy for providers that register their guests in a DNS zone,
// e.g. libvirt with dnsmasq. It looks up A records of <name>.<domain> and
// never runs commands on the guest.
type DNS struct {
	addr       string
	domain     string
	client     *dns.Client
	retryTimes int
}

// DNSOption configures a DNS strategy.
type DNSOption func(*dnsOptions)

type dnsOptions struct {
	network    string
	timeout    time.Duration
	retryTimes int
	sni        string
	insecure   bool
}

// WithNetwork selects the transport: "udp" (default), "tcp" or "tcp-tls".
func WithNetwork(network string) DNSOption {
	return func(o *dnsOptions) {
		o.network = network
	}
}

// WithTimeout sets the timeout of a single DNS exchange.
func WithTimeout(timeout time.Duration) DNSOption {
	return func(o *dnsOptions) {
		o.timeout = timeout
	}
}

// WithRetryTimes sets how many times a failed exchange is attempted.
func WithRetryTimes(n int) DNSOption {
	return func(o *dnsOptions) {
		o.retryTimes = n
	}
}

// WithTLS sets the server name and verification mode used with "tcp-tls".
func WithTLS(sni string, insecure bool) DNSOption {
	return func(o *dnsOptions) {
		o.sni = sni
		o.insecure = insecure
	}
}

// NewDNS creates a new DNS strategy querying server for names under domain.
func NewDNS(server, domain string, opts ...DNSOption) *DNS {
	options := &dnsOptions{
		network:    "udp",
		timeout:    defaultDNSTimeout,
		retryTimes: defaultDNSRetries,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.retryTimes <= 0 {
		options.retryTimes = 1
	}
	if options.timeout <= 0 {
		options.timeout = defaultDNSTimeout
	}

	client := &dns.Client{
		Timeout: options.timeout,
	}
	port := dnsPort
	switch options.network {
	case "tcp":
		client.Net = "tcp"
	case "tcp-tls":
		client.Net = "tcp-tls"
		client.TLSConfig = &tls.Config{
			ServerName:         options.sni,
			InsecureSkipVerify: options.insecure, //nolint:gosec // user configurable
		}
		port = dnsOverTLSPort
	}
	return &DNS{
		addr:       serverAddress(server, port),
		domain:     strings.Trim(domain, "."),
		client:     client,
		retryTimes: options.retryTimes,
	}
}

// serverAddress appends port to server unless it already names one.
func serverAddress(server, port string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, port)
}

// Key returns the machine name; the zone serves one address per name.
func (d *DNS) Key(name string, _ machine.Perspective) string {
	return name
}

// Resolve looks up the machine's A records and selects one of them.
func (d *DNS) Resolve(ctx context.Context, m machine.Machine, _ machine.Perspective, _ machine.Runner) (Result, error) {
	host := d.hostName(m.Name())
	var (
		addrs []string
		err   error
	)
	for i := 0; i < d.retryTimes; i++ {
		addrs, err = d.lookup4(ctx, host, 0)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup %s via %s: %w", host, d.addr, err)
	}
	return selectCandidate(m.Name(), m.Provider(), addrs), nil
}

func (d *DNS) hostName(name string) string {
	if d.domain == "" {
		return dns.Fqdn(name)
	}
	return dns.Fqdn(name + "." + d.domain)
}

// cnameTarget follows the CNAME records in answers starting at name and
// returns the last target reached, or "" when name has no CNAME.
func cnameTarget(name string, answers []dns.RR) string {
	targets := make(map[string]string)
	for _, a := range answers {
		if cname, ok := a.(*dns.CNAME); ok {
			targets[strings.ToLower(cname.Hdr.Name)] = cname.Target
		}
	}
	var target string
	current := strings.ToLower(name)
	for range len(targets) {
		next, ok := targets[current]
		if !ok {
			break
		}
		target = next
		current = strings.ToLower(next)
	}
	return target
}

// lookup4 returns the A records of host, following its CNAME chain through
// further queries when the server did not answer for the final target.
func (d *DNS) lookup4(ctx context.Context, host string, depth int) ([]string, error) {
	if depth > maxCNAMEDepth {
		return nil, fmt.Errorf("cname chain for %s is too long", host)
	}
	m := new(dns.Msg)
	m.SetQuestion(host, dns.TypeA)
	m.RecursionDesired = true
	resp, _, err := d.client.ExchangeContext(ctx, m, d.addr)
	if err != nil {
		return nil, err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
	default:
		return nil, fmt.Errorf("dns query failed with %s", dns.RcodeToString[resp.Rcode])
	}

	target := cnameTarget(host, resp.Answer)
	owner := host
	if target != "" {
		owner = target
	}
	var addrs []string
	for _, a := range resp.Answer {
		if aa, ok := a.(*dns.A); ok && strings.EqualFold(aa.Hdr.Name, owner) {
			addrs = append(addrs, aa.A.To4().String())
		}
	}
	if len(addrs) > 0 || target == "" {
		return addrs, nil
	}
	return d.lookup4(ctx, target, depth+1)
}
