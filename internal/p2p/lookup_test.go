package p2p

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/codec"
)

// scriptedTransport answers each datagram sent to an address with the replies
// registered for it. Sends made after a receive start a new round.
type scriptedTransport struct {
	replies   map[netip.AddrPort][][]byte
	fallback  func(to netip.AddrPort) [][]byte
	pending   [][]byte
	rounds    [][]netip.AddrPort
	receiving bool
	receives  int
	sendErr   error
	closed    bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{replies: make(map[netip.AddrPort][][]byte)}
}

func (s *scriptedTransport) reply(to netip.AddrPort, datagrams ...[]byte) {
	s.replies[to] = append(s.replies[to], datagrams...)
}

func (s *scriptedTransport) Send(datagram []byte, to netip.AddrPort) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.receiving || len(s.rounds) == 0 {
		s.rounds = append(s.rounds, nil)
		s.receiving = false
	}
	s.rounds[len(s.rounds)-1] = append(s.rounds[len(s.rounds)-1], to)
	replies, ok := s.replies[to]
	if !ok && s.fallback != nil {
		replies = s.fallback(to)
	}
	s.pending = append(s.pending, replies...)
	return nil
}

func (s *scriptedTransport) Receive(buf []byte) (int, netip.AddrPort, error) {
	s.receiving = true
	s.receives++
	if len(s.pending) == 0 {
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}
	datagram := s.pending[0]
	s.pending = s.pending[1:]
	return copy(buf, datagram), netip.AddrPort{}, nil
}

func (s *scriptedTransport) Close() error {
	s.closed = true
	return nil
}

func (s *scriptedTransport) sentTo() []netip.AddrPort {
	var all []netip.AddrPort
	for _, round := range s.rounds {
		all = append(all, round...)
	}
	return all
}

func newTestLookup(transport Transport, config LookupConfig) *Lookup {
	l := NewLookup(config, nil)
	l.listen = func(string, time.Duration) (Transport, error) {
		return transport, nil
	}
	return l
}

func testAddr(i int) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i)}), 6881)
}

func testNodeID(first byte) NodeID {
	var id NodeID
	id[0] = first
	return id
}

func nodesReply(t *testing.T, nodes ...CompactNode) []byte {
	t.Helper()
	var blob []byte
	for _, node := range nodes {
		blob = append(blob, compactNodeBytes(node.ID, node.Addr)...)
	}
	return encodeMessage(t, responseMessage(map[string]codec.Value{
		"id":    codec.Bytes(make([]byte, 20)),
		"nodes": codec.Bytes(blob),
	}))
}

func peersReply(t *testing.T, peers ...netip.AddrPort) []byte {
	t.Helper()
	values := make([]codec.Value, len(peers))
	for i, peer := range peers {
		values[i] = codec.Bytes(compactPeerBytes(peer))
	}
	return encodeMessage(t, responseMessage(map[string]codec.Value{
		"id":     codec.Bytes(make([]byte, 20)),
		"values": codec.List(values...),
	}))
}

func TestLookupExhaustsWithoutResults(t *testing.T) {
	transport := newScriptedTransport()
	bootstrap := []netip.AddrPort{testAddr(1), testAddr(2)}
	transport.reply(testAddr(1), encodeMessage(t, responseMessage(map[string]codec.Value{"nodes": codec.Bytes(nil)})))

	peers, stats, err := newTestLookup(transport, DefaultLookupConfig()).Run(testNodeID(0), bootstrap)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Expected no peers, got %v", peers)
	}
	if stats.Rounds != 2 {
		t.Errorf("Expected bootstrap round plus one empty round, got %d", stats.Rounds)
	}
	if len(transport.rounds) != 1 || len(transport.rounds[0]) != 2 {
		t.Errorf("Expected a single dispatch round to both bootstrap nodes, got %v", transport.rounds)
	}
	if transport.receives != 2 {
		t.Errorf("Expected one receive per datagram sent, got %d", transport.receives)
	}
	if !transport.closed {
		t.Error("Expected transport to be closed")
	}
}

func TestLookupEmptyBootstrap(t *testing.T) {
	transport := newScriptedTransport()

	peers, stats, err := newTestLookup(transport, DefaultLookupConfig()).Run(testNodeID(0), nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 0 || stats.Rounds != 1 || stats.Sent != 0 {
		t.Errorf("Expected one empty round, got peers=%v stats=%+v", peers, stats)
	}
}

func TestLookupFindsPeersInSecondRound(t *testing.T) {
	transport := newScriptedTransport()
	target := testNodeID(0)
	bootstrap := testAddr(1)

	// Seven candidates; ids 1..7 so the five closest are the first five
	var candidates []CompactNode
	for i := 1; i <= 7; i++ {
		candidates = append(candidates, CompactNode{ID: testNodeID(byte(i)), Addr: testAddr(100 + i)})
	}
	transport.reply(bootstrap, nodesReply(t, candidates[6], candidates[2], candidates[0], candidates[5], candidates[1], candidates[4], candidates[3]))

	p1 := netip.MustParseAddrPort("192.168.1.1:6881")
	p2 := netip.MustParseAddrPort("192.168.1.2:6881")
	p3 := netip.MustParseAddrPort("192.168.1.3:6881")
	transport.reply(candidates[0].Addr, peersReply(t, p1, p2))
	transport.reply(candidates[1].Addr, peersReply(t, p2, p3))
	transport.reply(candidates[2].Addr, []byte("not bencode"))
	transport.reply(candidates[3].Addr, nodesReply(t, CompactNode{ID: testNodeID(9), Addr: testAddr(200)}))
	// candidates[5] and [6] would answer with peers too, but are never queried
	transport.reply(candidates[5].Addr, peersReply(t, netip.MustParseAddrPort("9.9.9.9:9")))
	transport.reply(candidates[6].Addr, peersReply(t, netip.MustParseAddrPort("9.9.9.9:9")))

	peers, stats, err := newTestLookup(transport, DefaultLookupConfig()).Run(target, []netip.AddrPort{bootstrap})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	expected := []netip.AddrPort{p1, p2, p3}
	if len(peers) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, peers)
	}
	for i := range expected {
		if peers[i] != expected[i] {
			t.Errorf("Peer %d: expected %s, got %s", i, expected[i], peers[i])
		}
	}

	if len(transport.rounds) != 2 {
		t.Fatalf("Expected 2 rounds, got %d", len(transport.rounds))
	}
	if len(transport.rounds[1]) != DefaultFrontierSize {
		t.Fatalf("Expected %d nodes in round 2, got %d", DefaultFrontierSize, len(transport.rounds[1]))
	}
	for i, addr := range transport.rounds[1] {
		if addr != candidates[i].Addr {
			t.Errorf("Round 2 position %d: expected %s, got %s", i, candidates[i].Addr, addr)
		}
	}
	if stats.Discarded != 1 {
		t.Errorf("Expected 1 discarded reply, got %d", stats.Discarded)
	}
	if stats.Sent != 6 {
		t.Errorf("Expected 6 datagrams sent, got %d", stats.Sent)
	}
}

func TestLookupNeverRevisitsAddresses(t *testing.T) {
	transport := newScriptedTransport()
	bootstrap := testAddr(1)
	n1 := CompactNode{ID: testNodeID(1), Addr: testAddr(11)}
	n2 := CompactNode{ID: testNodeID(2), Addr: testAddr(12)}
	n3 := CompactNode{ID: testNodeID(3), Addr: testAddr(13)}
	n4 := CompactNode{ID: testNodeID(4), Addr: testAddr(14)}

	// The bootstrap node advertises itself; later rounds rediscover earlier nodes
	transport.reply(bootstrap, nodesReply(t, n1, n2, CompactNode{ID: testNodeID(0x80), Addr: bootstrap}, n1))
	transport.reply(n1.Addr, nodesReply(t, n1, n2, n3))
	transport.reply(n2.Addr, nodesReply(t, n1, CompactNode{ID: testNodeID(5), Addr: bootstrap}))
	transport.reply(n3.Addr, nodesReply(t, n4, n2))
	transport.reply(n4.Addr, nodesReply(t, n1, n2, n3, n4))

	peers, stats, err := newTestLookup(transport, DefaultLookupConfig()).Run(testNodeID(0), []netip.AddrPort{bootstrap})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Expected no peers, got %v", peers)
	}

	seen := make(map[netip.AddrPort]int)
	for _, addr := range transport.sentTo() {
		seen[addr]++
		if seen[addr] > 1 {
			t.Errorf("Address %s dispatched more than once", addr)
		}
	}
	for _, addr := range []netip.AddrPort{bootstrap, n1.Addr, n2.Addr, n3.Addr, n4.Addr} {
		if seen[addr] != 1 {
			t.Errorf("Expected %s to be queried exactly once, got %d", addr, seen[addr])
		}
	}
	if stats.Visited != 5 {
		t.Errorf("Expected 5 visited addresses, got %d", stats.Visited)
	}
	t.Logf("Rounds: %v", transport.rounds)
}

func TestLookupFrontierBound(t *testing.T) {
	transport := newScriptedTransport()
	bootstraps := []netip.AddrPort{testAddr(1), testAddr(2), testAddr(3), testAddr(4), testAddr(5), testAddr(6), testAddr(7)}

	// Every node answers with 20 never-seen nodes, so only the round cap ends the lookup
	next := 1000
	transport.fallback = func(netip.AddrPort) [][]byte {
		var nodes []CompactNode
		for i := 0; i < 20; i++ {
			next++
			nodes = append(nodes, CompactNode{ID: testNodeID(byte(next)), Addr: testAddr(next)})
		}
		return [][]byte{nodesReply(t, nodes...)}
	}

	config := DefaultLookupConfig()
	config.MaxRounds = 6
	peers, stats, err := newTestLookup(transport, config).Run(testNodeID(0), bootstraps)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Expected no peers, got %v", peers)
	}
	if !stats.Capped || stats.Rounds != 6 {
		t.Errorf("Expected lookup to stop at the round cap, got %+v", stats)
	}

	if len(transport.rounds) != 6 {
		t.Fatalf("Expected 6 dispatch rounds, got %d", len(transport.rounds))
	}
	if len(transport.rounds[0]) != len(bootstraps) {
		t.Errorf("Expected all %d bootstrap nodes in round 1, got %d", len(bootstraps), len(transport.rounds[0]))
	}
	for i, round := range transport.rounds[1:] {
		if len(round) != DefaultFrontierSize {
			t.Errorf("Round %d dispatched %d nodes, expected %d", i+2, len(round), DefaultFrontierSize)
		}
	}
}

func TestLookupSendFailureIsFatal(t *testing.T) {
	transport := newScriptedTransport()
	transport.sendErr = errors.New("network is unreachable")

	_, _, err := newTestLookup(transport, DefaultLookupConfig()).Run(testNodeID(0), []netip.AddrPort{testAddr(1)})
	if err == nil || !errors.Is(err, transport.sendErr) {
		t.Fatalf("Expected send error to propagate, got %v", err)
	}
	if !transport.closed {
		t.Error("Expected transport to be closed on error")
	}
}

func TestLookupListenFailureIsFatal(t *testing.T) {
	l := NewLookup(DefaultLookupConfig(), nil)
	l.listen = func(string, time.Duration) (Transport, error) {
		return nil, fmt.Errorf("bind: address already in use")
	}

	if _, err := l.GetPeersWithBootstrap(testNodeID(0), []netip.AddrPort{testAddr(1)}); err == nil {
		t.Fatal("Expected bind error")
	}
}

func TestLookupToleratesErrorReplies(t *testing.T) {
	transport := newScriptedTransport()
	bootstrap := []netip.AddrPort{testAddr(1), testAddr(2)}
	peer := netip.MustParseAddrPort("172.16.0.1:51413")

	transport.reply(testAddr(1), encodeMessage(t, codec.Dict(map[string]codec.Value{
		"t": codec.String("aa"),
		"y": codec.String("e"),
		"e": codec.List(codec.Int(203), codec.String("Protocol Error")),
	})))
	transport.reply(testAddr(2), peersReply(t, peer, peer))

	peers, stats, err := newTestLookup(transport, DefaultLookupConfig()).Run(testNodeID(0), bootstrap)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 1 || peers[0] != peer {
		t.Errorf("Expected deduplicated [%s], got %v", peer, peers)
	}
	if stats.Discarded != 1 || stats.Replies != 1 {
		t.Errorf("Expected 1 discarded and 1 useful reply, got %+v", stats)
	}
}

func TestSelectFrontier(t *testing.T) {
	visited := map[netip.AddrPort]struct{}{testAddr(1): {}}
	discovered := []CompactNode{
		{ID: testNodeID(9), Addr: testAddr(9)},
		{ID: testNodeID(1), Addr: testAddr(1)},
		{ID: testNodeID(3), Addr: testAddr(3)},
		{ID: testNodeID(0x33), Addr: testAddr(3)},
		{ID: testNodeID(2), Addr: testAddr(2)},
	}

	frontier := selectFrontier(discovered, testNodeID(0), visited, 2)

	expected := []netip.AddrPort{testAddr(2), testAddr(3)}
	if len(frontier) != len(expected) || frontier[0] != expected[0] || frontier[1] != expected[1] {
		t.Fatalf("Expected %v, got %v", expected, frontier)
	}
	for _, addr := range expected {
		if _, ok := visited[addr]; !ok {
			t.Errorf("Expected %s to be marked visited", addr)
		}
	}
	if _, ok := visited[testAddr(9)]; ok {
		t.Error("Nodes outside the frontier must not be marked visited")
	}
}
