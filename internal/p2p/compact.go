package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"github.com/anacrolix/dht/v2/int160"
	"github.com/anacrolix/dht/v2/krpc"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/codec"
)

const (
	NodeIDLength      = 20
	CompactPeerLength = 6
	CompactNodeLength = NodeIDLength + CompactPeerLength
)

var ErrInvalidNodesLength = errors.New("nodes blob length is not a multiple of 26")

// NodeID identifies a DHT node. Info-hashes share the type since both live in the same key space.
type NodeID = krpc.ID

// CompactNode is a node id with the IPv4 endpoint it was advertised at
type CompactNode struct {
	ID   NodeID
	Addr netip.AddrPort
}

func (n CompactNode) String() string {
	return fmt.Sprintf("%x@%s", n.ID[:], n.Addr)
}

// DecodeCompactPeer reads a 4-byte IPv4 address followed by a big-endian port
func DecodeCompactPeer(b []byte) (netip.AddrPort, error) {
	if len(b) != CompactPeerLength {
		return netip.AddrPort{}, fmt.Errorf("compact peer must be %d bytes, got %d", CompactPeerLength, len(b))
	}
	ip := netip.AddrFrom4([4]byte(b[:4]))
	return netip.AddrPortFrom(ip, binary.BigEndian.Uint16(b[4:])), nil
}

// DecodeCompactNode reads a 20-byte id followed by a compact peer address
func DecodeCompactNode(b []byte) (CompactNode, error) {
	if len(b) != CompactNodeLength {
		return CompactNode{}, fmt.Errorf("compact node must be %d bytes, got %d", CompactNodeLength, len(b))
	}
	addr, err := DecodeCompactPeer(b[NodeIDLength:])
	if err != nil {
		return CompactNode{}, err
	}
	node := CompactNode{Addr: addr}
	copy(node.ID[:], b[:NodeIDLength])
	return node, nil
}

// DecodeNodesBlob decodes a "nodes" value. A trailing partial record rejects the whole blob.
func DecodeNodesBlob(b []byte) ([]CompactNode, error) {
	if len(b)%CompactNodeLength != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNodesLength, len(b))
	}

	nodes := make([]CompactNode, 0, len(b)/CompactNodeLength)
	for off := 0; off < len(b); off += CompactNodeLength {
		node, err := DecodeCompactNode(b[off : off+CompactNodeLength])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// DecodePeersList decodes a "values" list. Entries that are not 6-byte strings are skipped.
func DecodePeersList(values []codec.Value) []netip.AddrPort {
	peers := make([]netip.AddrPort, 0, len(values))
	for _, v := range values {
		if v.Kind != codec.KindBytes {
			continue
		}
		peer, err := DecodeCompactPeer(v.Bytes)
		if err != nil {
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

// Distance is the Kademlia XOR metric, compared as an unsigned 160-bit big-endian integer
func Distance(a, b NodeID) int160.T {
	return int160.Distance(a.Int160(), b.Int160())
}

// SortByDistance orders nodes closest-first to target. Equal distances keep their input order.
func SortByDistance(nodes []CompactNode, target NodeID) {
	slices.SortStableFunc(nodes, func(x, y CompactNode) int {
		dx := Distance(x.ID, target)
		dy := Distance(y.ID, target)
		return dx.Cmp(dy)
	})
}
