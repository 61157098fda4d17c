package p2p

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/codec"
	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/utils"
)

const (
	DefaultFrontierSize   = 5
	DefaultReceiveTimeout = time.Second
	DefaultReceiveBuffer  = 2048
	DefaultTransactionID  = "aa"
	DefaultBindAddress    = "0.0.0.0:0"

	// MaxRoundsLimit bounds dht_max_rounds
	MaxRoundsLimit = 1 << 20
)

// LocalNodeID is the sender id of every query.
var LocalNodeID = func() (id NodeID) {
	for i := range id {
		id[i] = 7
	}
	return id
}()

type LookupConfig struct {
	NodeID         NodeID
	TransactionID  string
	FrontierSize   int
	MaxRounds      int // 0 = unlimited
	ReceiveTimeout time.Duration
	ReceiveBuffer  int
	BindAddress    string
	BootstrapNodes []string
	DNSServer      string // host:port, empty = system resolver
}

func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		NodeID:         LocalNodeID,
		TransactionID:  DefaultTransactionID,
		FrontierSize:   DefaultFrontierSize,
		ReceiveTimeout: DefaultReceiveTimeout,
		ReceiveBuffer:  DefaultReceiveBuffer,
		BindAddress:    DefaultBindAddress,
		BootstrapNodes: DefaultBootstrapNodes,
	}
}

// LookupConfigFromManager reads the dht_* keys, falling back to the defaults
func LookupConfigFromManager(cm *utils.ConfigManager) LookupConfig {
	return LookupConfig{
		NodeID:         LocalNodeID,
		TransactionID:  cm.GetConfigWithDefault("dht_transaction_id", DefaultTransactionID),
		FrontierSize:   cm.GetConfigInt("dht_frontier_size", DefaultFrontierSize, 1, 64),
		MaxRounds:      cm.GetConfigInt("dht_max_rounds", 0, 0, MaxRoundsLimit),
		ReceiveTimeout: cm.GetConfigDuration("dht_receive_timeout", DefaultReceiveTimeout),
		ReceiveBuffer:  cm.GetConfigInt("dht_receive_buffer", DefaultReceiveBuffer, 512, 65535),
		BindAddress:    cm.GetConfigWithDefault("dht_bind_address", DefaultBindAddress),
		BootstrapNodes: cm.GetBootstrapNodes("dht_bootstrap_nodes", DefaultBootstrapNodes),
		DNSServer:      cm.GetConfigWithDefault("dht_dns_server", ""),
	}
}

// LookupStats summarizes one lookup
type LookupStats struct {
	Rounds    int
	Sent      int
	Replies   int
	Discarded int
	Visited   int
	Capped    bool
}

// Lookup resolves info-hashes to peers with iterative get_peers rounds.
// Every call starts from an empty state; nothing is kept between calls.
type Lookup struct {
	config   LookupConfig
	logger   *utils.LogsManager
	resolver *net.Resolver
	listen   func(bindAddress string, timeout time.Duration) (Transport, error)
}

func NewLookup(config LookupConfig, logger *utils.LogsManager) *Lookup {
	return &Lookup{
		config:   config,
		logger:   logger,
		resolver: newResolver(config.DNSServer),
		listen: func(bindAddress string, timeout time.Duration) (Transport, error) {
			return ListenUDP(bindAddress, timeout)
		},
	}
}

// newResolver returns the system resolver, or a pure Go resolver that sends
// every query to server when one is configured
func newResolver(server string) *net.Resolver {
	if server == "" {
		return net.DefaultResolver
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, server)
		},
	}
}

// GetPeers runs a lookup with the default configuration and no logging
func GetPeers(infoHash NodeID) ([]netip.AddrPort, error) {
	return NewLookup(DefaultLookupConfig(), nil).GetPeers(context.Background(), infoHash)
}

// GetPeersWithBootstrap runs a lookup with the default configuration from the given entry nodes
func GetPeersWithBootstrap(infoHash NodeID, bootstrap []netip.AddrPort) ([]netip.AddrPort, error) {
	return NewLookup(DefaultLookupConfig(), nil).GetPeersWithBootstrap(infoHash, bootstrap)
}

// Bootstrap resolves the configured bootstrap nodes with the lookup's resolver
func (l *Lookup) Bootstrap(ctx context.Context) ([]netip.AddrPort, error) {
	return ResolveBootstrap(ctx, l.resolver, l.config.BootstrapNodes, l.logger)
}

// GetPeers resolves the configured bootstrap hostnames, then runs the lookup from them
func (l *Lookup) GetPeers(ctx context.Context, infoHash NodeID) ([]netip.AddrPort, error) {
	bootstrap, err := l.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	return l.GetPeersWithBootstrap(infoHash, bootstrap)
}

func (l *Lookup) GetPeersWithBootstrap(infoHash NodeID, bootstrap []netip.AddrPort) ([]netip.AddrPort, error) {
	peers, _, err := l.Run(infoHash, bootstrap)
	return peers, err
}

// Run performs the lookup. Only transport failures are returned as errors; unusable
// replies just leave the round with fewer results.
func (l *Lookup) Run(infoHash NodeID, bootstrap []netip.AddrPort) ([]netip.AddrPort, LookupStats, error) {
	var stats LookupStats
	fields := log.Fields{
		"lookup":    uuid.New().String(),
		"info_hash": fmt.Sprintf("%x", infoHash[:]),
	}

	query, err := codec.Encode(BuildGetPeers(l.config.TransactionID, l.config.NodeID, infoHash))
	if err != nil {
		return nil, stats, fmt.Errorf("failed to encode get_peers query: %w", err)
	}

	transport, err := l.listen(l.config.BindAddress, l.config.ReceiveTimeout)
	if err != nil {
		return nil, stats, err
	}
	defer transport.Close()

	frontierSize := l.config.FrontierSize
	if frontierSize <= 0 {
		frontierSize = DefaultFrontierSize
	}
	bufSize := l.config.ReceiveBuffer
	if bufSize <= 0 {
		bufSize = DefaultReceiveBuffer
	}
	buf := make([]byte, bufSize)

	// Entry nodes are marked visited as well. A loop that only marks the nodes it
	// selects from replies would query a router again once some reply advertises it.
	visited := make(map[netip.AddrPort]struct{})
	var nodes []netip.AddrPort
	for _, addr := range bootstrap {
		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		if !addr.Addr().Is4() {
			l.logger.LogWithFields("debug", fmt.Sprintf("Skipping non-IPv4 bootstrap node %s", addr), "dht", fields)
			continue
		}
		if _, seen := visited[addr]; seen {
			continue
		}
		visited[addr] = struct{}{}
		nodes = append(nodes, addr)
	}

	if len(nodes) == 0 {
		l.logger.LogWithFields("warn", "No usable bootstrap nodes, lookup will find nothing", "dht", fields)
	} else {
		l.logger.LogWithFields("info", fmt.Sprintf("Starting get_peers lookup from %d bootstrap nodes", len(nodes)), "dht", fields)
	}

	for {
		stats.Rounds++
		var peers []netip.AddrPort
		var discovered []CompactNode

		for _, addr := range nodes {
			if err := transport.Send(query, addr); err != nil {
				return nil, stats, fmt.Errorf("failed to send get_peers to %s: %w", addr, err)
			}
			stats.Sent++
		}

		// One receive slot per datagram sent, whether or not replies arrive
		for range nodes {
			n, from, err := transport.Receive(buf)
			if err != nil {
				if !IsTimeout(err) {
					l.logger.LogWithFields("warn", fmt.Sprintf("Receive failed: %v", err), "dht", fields)
				}
				continue
			}

			resp, err := ParseResponse(buf[:n])
			if err != nil {
				stats.Discarded++
				l.logger.LogWithFields("debug", fmt.Sprintf("Discarding reply from %s: %v", from, err), "dht", fields)
				continue
			}
			stats.Replies++

			switch resp.Kind {
			case ResponsePeers:
				peers = append(peers, resp.Peers...)
			case ResponseNodes:
				discovered = append(discovered, resp.Nodes...)
			}
		}

		l.logger.LogWithFields("debug", fmt.Sprintf("Round %d: queried %d nodes, got %d peers and %d nodes",
			stats.Rounds, len(nodes), len(peers), len(discovered)), "dht", fields)

		if len(peers) > 0 {
			peers = dedupePeers(peers)
			stats.Visited = len(visited)
			l.logger.LogWithFields("info", fmt.Sprintf("Found %d peers after %d rounds", len(peers), stats.Rounds), "dht", fields)
			return peers, stats, nil
		}

		if len(nodes) == 0 {
			stats.Visited = len(visited)
			l.logger.LogWithFields("info", fmt.Sprintf("Node set exhausted after %d rounds, no peers found", stats.Rounds), "dht", fields)
			return []netip.AddrPort{}, stats, nil
		}

		if l.config.MaxRounds > 0 && stats.Rounds >= l.config.MaxRounds {
			stats.Visited = len(visited)
			stats.Capped = true
			l.logger.LogWithFields("warn", fmt.Sprintf("Stopping lookup at round cap %d, no peers found", l.config.MaxRounds), "dht", fields)
			return []netip.AddrPort{}, stats, nil
		}

		nodes = selectFrontier(discovered, infoHash, visited, frontierSize)
	}
}

// selectFrontier picks the k closest discovered nodes not yet visited and marks them visited
func selectFrontier(discovered []CompactNode, target NodeID, visited map[netip.AddrPort]struct{}, k int) []netip.AddrPort {
	candidates := make([]CompactNode, 0, len(discovered))
	seen := make(map[netip.AddrPort]bool)
	for _, node := range discovered {
		if _, ok := visited[node.Addr]; ok {
			continue
		}
		if seen[node.Addr] {
			continue
		}
		seen[node.Addr] = true
		candidates = append(candidates, node)
	}

	SortByDistance(candidates, target)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	frontier := make([]netip.AddrPort, len(candidates))
	for i, node := range candidates {
		visited[node.Addr] = struct{}{}
		frontier[i] = node.Addr
	}
	return frontier
}

func dedupePeers(peers []netip.AddrPort) []netip.AddrPort {
	seen := make(map[netip.AddrPort]bool, len(peers))
	unique := make([]netip.AddrPort, 0, len(peers))
	for _, peer := range peers {
		if !seen[peer] {
			seen[peer] = true
			unique = append(unique, peer)
		}
	}
	return unique
}
