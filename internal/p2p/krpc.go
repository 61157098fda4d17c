package p2p

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/Trustflow-Network-Labs/dht-get-peers/internal/codec"
)

var ErrMalformedResponse = errors.New("malformed krpc response")

// ProtocolError is a KRPC error message ("y": "e") reported by the remote node
type ProtocolError struct {
	Payload codec.Value
}

func (e *ProtocolError) Error() string {
	// BEP 5 errors are [code, message]
	if e.Payload.Kind == codec.KindList && len(e.Payload.List) == 2 &&
		e.Payload.List[0].Kind == codec.KindInt && e.Payload.List[1].Kind == codec.KindBytes {
		return fmt.Sprintf("krpc error %d: %s", e.Payload.List[0].Int, e.Payload.List[1].Bytes)
	}
	return fmt.Sprintf("krpc error: %s", e.Payload)
}

type ResponseKind int

const (
	ResponsePeers ResponseKind = iota
	ResponseNodes
)

func (k ResponseKind) String() string {
	switch k {
	case ResponsePeers:
		return "peers"
	case ResponseNodes:
		return "nodes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Response is a decoded get_peers reply. Peers is set for ResponsePeers, Nodes for ResponseNodes.
type Response struct {
	Kind  ResponseKind
	Peers []netip.AddrPort
	Nodes []CompactNode
}

// BuildGetPeers builds the get_peers query sent to every node of a lookup
func BuildGetPeers(transactionID string, sender NodeID, infoHash NodeID) codec.Value {
	return codec.Dict(map[string]codec.Value{
		"t": codec.String(transactionID),
		"y": codec.String("q"),
		"q": codec.String("get_peers"),
		"a": codec.Dict(map[string]codec.Value{
			"id":        codec.Bytes(sender[:]),
			"info_hash": codec.Bytes(infoHash[:]),
		}),
	})
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, reason)
}

// ParseResponse interprets a get_peers reply datagram. It returns a *ProtocolError for
// error messages and an error wrapping ErrMalformedResponse for anything it cannot use.
func ParseResponse(datagram []byte) (Response, error) {
	values, err := codec.Decode(datagram)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(values) == 0 {
		return Response{}, malformed("empty datagram")
	}

	msg := values[0]
	if msg.Kind != codec.KindDict {
		return Response{}, malformed("message is not a dictionary")
	}

	if e, ok := msg.Get("e"); ok {
		return Response{}, &ProtocolError{Payload: e}
	}

	r, ok := msg.Get("r")
	if !ok {
		return Response{}, malformed(`missing "r"`)
	}
	if r.Kind != codec.KindDict {
		return Response{}, malformed(`"r" is not a dictionary`)
	}

	peerValues, hasValues := r.Get("values")
	nodes, hasNodes := r.Get("nodes")

	// Peers win over nodes since they end the lookup
	switch {
	case hasValues && peerValues.Kind == codec.KindList:
		return Response{Kind: ResponsePeers, Peers: DecodePeersList(peerValues.List)}, nil
	case !hasValues && hasNodes && nodes.Kind == codec.KindBytes:
		decoded, err := DecodeNodesBlob(nodes.Bytes)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return Response{Kind: ResponseNodes, Nodes: decoded}, nil
	case hasValues:
		return Response{}, malformed(fmt.Sprintf(`"values" is a %s, expected list`, peerValues.Kind))
	case hasNodes:
		return Response{}, malformed(fmt.Sprintf(`"nodes" is a %s, expected bytes`, nodes.Kind))
	default:
		return Response{}, malformed(`neither "values" nor "nodes" present`)
	}
}
