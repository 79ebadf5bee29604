package transport

import (
	"context"
	"fmt"
	"net"
)

// DefaultRFCOMMChannel is the RFCOMM channel the fleet uses by convention.
const DefaultRFCOMMChannel = 1

// RFCOMMConnector connects to a Bluetooth peer's RFCOMM channel.
//
// No RFCOMM socket library is available in this build's dependency set, and
// the kernel RFCOMM socket family is Linux-specific and unavailable in a
// portable Go build. This connector instead dials the peer over TCP at an
// address supplied by the out-of-scope device-discovery subsystem, treating
// it as the simulated RFCOMM socket. Swapping in a real RFCOMM dialer later
// only requires a new Connector implementation — callers depend on the
// interface, not this struct.
type RFCOMMConnector struct {
	peerAddr string
	channel  int
	name     string
}

// NewRFCOMMConnector returns a Connector for a Bluetooth peer address
// (produced by the discovery subsystem) and RFCOMM channel.
func NewRFCOMMConnector(peerAddr string, channel int, name string) *RFCOMMConnector {
	return &RFCOMMConnector{peerAddr: peerAddr, channel: channel, name: name}
}

func (c *RFCOMMConnector) Name() string { return c.name }

func (c *RFCOMMConnector) Connect(ctx context.Context) (Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.peerAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: rfcomm (simulated) dial %s channel %d failed: %w", c.peerAddr, c.channel, err)
	}
	return conn, nil
}

// RFCOMMListener accepts inbound connections on the simulated RFCOMM
// channel. Used by the Relay Node when RFCOMM is enabled as its inbound
// transport.
type RFCOMMListener struct {
	ln      net.Listener
	channel int
}

// ListenRFCOMM binds addr (the TCP-simulation address) for channel and
// returns a listener ready to Accept.
func ListenRFCOMM(addr string, channel int) (*RFCOMMListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: rfcomm (simulated) listen %s channel %d failed: %w", addr, channel, err)
	}
	return &RFCOMMListener{ln: ln, channel: channel}, nil
}

func (l *RFCOMMListener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: rfcomm (simulated) accept failed: %w", err)
	}
	return conn, nil
}

func (l *RFCOMMListener) Addr() net.Addr { return l.ln.Addr() }

func (l *RFCOMMListener) Close() error { return l.ln.Close() }
