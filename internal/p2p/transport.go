package p2p

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"
)

// Transport sends and receives raw datagrams. It knows nothing about KRPC.
type Transport interface {
	Send(datagram []byte, to netip.AddrPort) error
	// Receive blocks for at most the transport's timeout
	Receive(buf []byte) (int, netip.AddrPort, error)
	Close() error
}

// UDPTransport is a single IPv4 UDP socket with a fixed per-receive timeout
type UDPTransport struct {
	conn    *net.UDPConn
	timeout time.Duration
}

func ListenUDP(bindAddress string, timeout time.Duration) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", bindAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address %s: %w", bindAddress, err)
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP connection: %w", err)
	}

	return &UDPTransport{conn: conn, timeout: timeout}, nil
}

func (t *UDPTransport) Send(datagram []byte, to netip.AddrPort) error {
	_, err := t.conn.WriteToUDPAddrPort(datagram, to)
	return err
}

func (t *UDPTransport) Receive(buf []byte) (int, netip.AddrPort, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, from, err := t.conn.ReadFromUDPAddrPort(buf)
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), err
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// IsTimeout reports whether err is an expired receive deadline
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
