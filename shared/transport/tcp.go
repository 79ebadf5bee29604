package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPConnector dials a TCP endpoint. Used for the primary 5G/cellular uplink
// and, when RFCOMM is unavailable on the host, as a TCP-simulated fallback.
type TCPConnector struct {
	addr string
	name string
}

// NewTCPConnector returns a Connector that dials addr (host:port).
// name is the human-readable label used in logs/ConnectionEvents.
func NewTCPConnector(addr, name string) *TCPConnector {
	return &TCPConnector{addr: addr, name: name}
}

func (c *TCPConnector) Name() string { return c.name }

func (c *TCPConnector) Connect(ctx context.Context) (Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial %s failed: %w", c.addr, err)
	}
	return conn, nil
}

// TCPListener accepts inbound TCP connections, each surfaced as a Stream.
// Used by the Ground Server and the Relay Node's inbound side.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr and returns a TCPListener ready to Accept.
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listen %s failed: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks until an inbound connection arrives or the listener closes.
func (l *TCPListener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: tcp accept failed: %w", err)
	}
	return conn, nil
}

// Addr returns the listener's bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *TCPListener) Close() error { return l.ln.Close() }
