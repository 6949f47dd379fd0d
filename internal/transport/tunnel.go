package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// TunnelDetector reports whether traffic is likely routed through a VPN or proxy tunnel.
type TunnelDetector interface {
	Tunneled(ctx context.Context) bool
}

// StaticTunnel is a fixed answer, used when detection is disabled.
type StaticTunnel bool

func (s StaticTunnel) Tunneled(context.Context) bool { return bool(s) }

var tunnelPrefixes = []string{"utun", "tun", "tap", "ppp", "ipsec", "wg", "tailscale", "zt", "nordlynx", "gpd"}

// InterfaceDetector inspects network interfaces through gopsutil and caches the answer.
type InterfaceDetector struct {
	ttl  time.Duration
	list func(ctx context.Context) ([]psnet.InterfaceStat, error)
	now  func() time.Time

	mu      sync.Mutex
	checked time.Time
	cached  bool
}

// NewInterfaceDetector returns a detector re-reading interfaces at most once per ttl.
func NewInterfaceDetector(ttl time.Duration) *InterfaceDetector {
	return &InterfaceDetector{
		ttl:  ttl,
		list: func(ctx context.Context) ([]psnet.InterfaceStat, error) { return psnet.InterfacesWithContext(ctx) },
		now:  time.Now,
	}
}

func (d *InterfaceDetector) Tunneled(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.checked.IsZero() && now.Sub(d.checked) < d.ttl {
		return d.cached
	}

	ifaces, err := d.list(ctx)
	if err != nil {
		// keep the last answer; detection is advisory
		return d.cached
	}
	d.cached = anyTunnel(ifaces)
	d.checked = now
	return d.cached
}

func anyTunnel(ifaces []psnet.InterfaceStat) bool {
	for _, ifc := range ifaces {
		if !isUp(ifc.Flags) || !hasTunnelName(ifc.Name) {
			continue
		}
		for _, a := range ifc.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip != nil && !ip.IsLinkLocalUnicast() && !ip.IsLoopback() {
				return true
			}
		}
	}
	return false
}

func isUp(flags []string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, "up") {
			return true
		}
	}
	return false
}

func hasTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
