package strategy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xflash-panda/guestaddr/pkg/machine"
)

func startDNSServer(t *testing.T, records map[string][]string, rcodes map[string]int) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			resp := new(dns.Msg)
			resp.SetReply(req)
			name := req.Question[0].Name
			if rcode, ok := rcodes[name]; ok {
				resp.SetRcode(req, rcode)
			}
			for _, s := range records[name] {
				rr, err := dns.NewRR(s)
				if err == nil {
					resp.Answer = append(resp.Answer, rr)
				}
			}
			_ = w.WriteMsg(resp)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })
	return pc.LocalAddr().String()
}

func TestNewDNS(t *testing.T) {
	d := NewDNS("192.168.122.1", "vm.internal.")
	assert.Equal(t, "192.168.122.1:53", d.addr)
	assert.Equal(t, "vm.internal", d.domain)
	assert.Equal(t, defaultDNSRetries, d.retryTimes)
	assert.Equal(t, defaultDNSTimeout, d.client.Timeout)
	assert.Empty(t, d.client.Net)

	tcp := NewDNS("192.168.122.1:5353", "", WithNetwork("tcp"), WithTimeout(time.Second), WithRetryTimes(0))
	assert.Equal(t, "192.168.122.1:5353", tcp.addr)
	assert.Equal(t, "tcp", tcp.client.Net)
	assert.Equal(t, time.Second, tcp.client.Timeout)
	assert.Equal(t, 1, tcp.retryTimes)

	zero := NewDNS("192.168.122.1", "", WithTimeout(0))
	assert.Equal(t, defaultDNSTimeout, zero.client.Timeout)

	dot := NewDNS("dns.vm.internal", "vm.internal", WithNetwork("tcp-tls"), WithTLS("dns.vm.internal", false))
	assert.Equal(t, "dns.vm.internal:853", dot.addr)
	assert.Equal(t, "tcp-tls", dot.client.Net)
	require.NotNil(t, dot.client.TLSConfig)
	assert.Equal(t, "dns.vm.internal", dot.client.TLSConfig.ServerName)
}

func TestServerAddress(t *testing.T) {
	tests := []struct {
		server   string
		port     string
		expected string
	}{
		{"8.8.8.8", "53", "8.8.8.8:53"},
		{"8.8.8.8:5353", "53", "8.8.8.8:5353"},
		{"dns.google", "853", "dns.google:853"},
		{"::1", "53", "[::1]:53"},
		{"[::1]:5353", "53", "[::1]:5353"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, serverAddress(tt.server, tt.port))
	}
}

func TestCNAMETarget(t *testing.T) {
	rr := func(s string) dns.RR {
		r, err := dns.NewRR(s)
		require.NoError(t, err)
		return r
	}
	answers := []dns.RR{
		rr("x.vm.internal. 60 IN CNAME y.vm.internal."),
		rr("b.vm.internal. 60 IN CNAME c.vm.internal."),
		rr("a.vm.internal. 60 IN CNAME b.vm.internal."),
		rr("c.vm.internal. 60 IN A 192.168.122.30"),
	}
	assert.Equal(t, "c.vm.internal.", cnameTarget("a.vm.internal.", answers))
	assert.Equal(t, "c.vm.internal.", cnameTarget("A.VM.Internal.", answers))
	assert.Equal(t, "y.vm.internal.", cnameTarget("x.vm.internal.", answers))
	assert.Empty(t, cnameTarget("c.vm.internal.", answers))
	assert.Empty(t, cnameTarget("a.vm.internal.", nil))

	loop := []dns.RR{
		rr("p.vm.internal. 60 IN CNAME q.vm.internal."),
		rr("q.vm.internal. 60 IN CNAME p.vm.internal."),
	}
	assert.NotEmpty(t, cnameTarget("p.vm.internal.", loop))
}

func TestDNSResolve(t *testing.T) {
	addr := startDNSServer(t, map[string][]string{
		"web.vm.internal.":   {"web.vm.internal. 60 IN A 192.168.122.10"},
		"db.vm.internal.":    {"db.vm.internal. 60 IN A 192.168.122.20", "db.vm.internal. 60 IN A 192.168.122.21"},
		"alias.vm.internal.": {"alias.vm.internal. 60 IN CNAME web.vm.internal."},
		"loop.vm.internal.":  {"loop.vm.internal. 60 IN CNAME loop.vm.internal."},
		"mixed.vm.internal.": {
			"other.vm.internal. 60 IN CNAME elsewhere.vm.internal.",
			"elsewhere.vm.internal. 60 IN A 10.9.9.9",
			"mixed.vm.internal. 60 IN CNAME web.vm.internal.",
			"web.vm.internal. 60 IN A 192.168.122.10",
		},
		"partial.vm.internal.": {
			"partial.vm.internal. 60 IN CNAME alias.vm.internal.",
			"unrelated.vm.internal. 60 IN A 10.9.9.9",
		},
	}, map[string]int{
		"gone.vm.internal.":   dns.RcodeNameError,
		"broken.vm.internal.": dns.RcodeServerFailure,
	})
	d := NewDNS(addr, "vm.internal", WithTimeout(time.Second))

	tests := []struct {
		name         string
		machine      string
		wantAddress  string
		wantWarnings int
		wantErr      string
	}{
		{name: "single record", machine: "web", wantAddress: "192.168.122.10"},
		{name: "multiple records", machine: "db", wantAddress: "192.168.122.20", wantWarnings: 1},
		{name: "cname followed", machine: "alias", wantAddress: "192.168.122.10"},
		{name: "cname chain from queried name", machine: "mixed", wantAddress: "192.168.122.10"},
		{name: "cname target queried", machine: "partial", wantAddress: "192.168.122.10"},
		{name: "nxdomain", machine: "gone", wantWarnings: 1},
		{name: "servfail", machine: "broken", wantErr: "SERVFAIL"},
		{name: "cname loop", machine: "loop", wantErr: "too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := machine.NewStatic(tt.machine, "libvirt", true)
			res, err := d.Resolve(context.Background(), m, machine.FromPeer, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddress, res.Address)
			assert.Len(t, res.Warnings, tt.wantWarnings)
		})
	}
}

func TestDNSKey(t *testing.T) {
	d := NewDNS("127.0.0.1", "vm.internal")
	assert.Equal(t, "web", d.Key("web", machine.FromHost))
	assert.Equal(t, "web", d.Key("web", machine.FromPeer))
	assert.Equal(t, "web.vm.internal.", d.hostName("web"))
	assert.Equal(t, "web.", NewDNS("127.0.0.1", "").hostName("web"))
}

func TestDNSResolveCancelled(t *testing.T) {
	addr := startDNSServer(t, nil, nil)
	d := NewDNS(addr, "vm.internal")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := d.Resolve(ctx, machine.NewStatic("web", "libvirt", true), machine.FromHost, nil)
	require.Error(t, err)
	assert.Empty(t, res.Address)
}
