package core

import (
	"net"
	"net/netip"
)

// Transport is an unreliable, connectionless datagram socket.
// ReadFrom must return an error wrapping net.ErrClosed once Close has been called.
type Transport interface {
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	WriteTo(b []byte, addr netip.AddrPort) error
	LocalAddr() netip.AddrPort
	Close() error
}

type UDPTransport struct {
	conn *net.UDPConn
}

func ListenUDP(bind netip.AddrPort) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(bind))
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn}, nil
}

func (u *UDPTransport) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	n, addr, err := u.conn.ReadFromUDPAddrPort(b)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), nil
}

func (u *UDPTransport) WriteTo(b []byte, addr netip.AddrPort) error {
	_, err := u.conn.WriteToUDPAddrPort(b, addr)
	return err
}

func (u *UDPTransport) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (u *UDPTransport) Close() error {
	return u.conn.Close()
}
