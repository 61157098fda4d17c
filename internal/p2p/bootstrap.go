package p2p

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/utils"
)

// DefaultBootstrapNodes are the well-known Mainline DHT routers
var DefaultBootstrapNodes = []string{
	"router.utorrent.com:6881",
	"dht.aelitis.com:6881",
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

// ResolveBootstrap resolves host:port entries to IPv4 endpoints using the host resolver.
// Entries that fail to resolve are skipped. The result follows the order of nodes and
// holds no duplicates.
func ResolveBootstrap(ctx context.Context, resolver *net.Resolver, nodes []string, logger *utils.LogsManager) ([]netip.AddrPort, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	resolved := make([][]netip.AddrPort, len(nodes))
	g, gctx := errgroup.WithContext(ctx)

	for i, node := range nodes {
		g.Go(func() error {
			addrs, err := resolveNode(gctx, resolver, node)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn(fmt.Sprintf("Skipping bootstrap node %s: %v", node, err), "dht")
				return nil
			}
			resolved[i] = addrs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bootstrap resolution interrupted: %w", err)
	}

	seen := make(map[netip.AddrPort]bool)
	var addrs []netip.AddrPort
	for i, nodeAddrs := range resolved {
		logger.Debug(fmt.Sprintf("Bootstrap node %s resolved to %v", nodes[i], nodeAddrs), "dht")
		for _, addr := range nodeAddrs {
			if !seen[addr] {
				seen[addr] = true
				addrs = append(addrs, addr)
			}
		}
	}

	return addrs, nil
}

func resolveNode(ctx context.Context, resolver *net.Resolver, node string) ([]netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(node)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		return nil, fmt.Errorf("missing host")
	}

	ips, err := resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}

	addrs := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		ip = ip.Unmap()
		if !ip.Is4() {
			continue
		}
		addrs = append(addrs, netip.AddrPortFrom(ip, uint16(port)))
	}
	return addrs, nil
}
