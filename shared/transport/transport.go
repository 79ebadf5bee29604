// Package transport defines the duplex byte-stream capability the
// Connection Manager and Relay Node drive, plus two concrete transports:
// a TCP stream and an RFCOMM (Bluetooth) stream.
//
// Both implementations satisfy the same Stream interface so the Connection
// Manager's session loop never branches on transport kind — it only ever
// talks to a Stream and a Connector that produced it.
package transport

import (
	"context"
	"time"
)

// Stream is a duplex byte-stream capability. It is the minimal surface the
// Connection Manager and Relay Node need: read into a caller-supplied
// buffer, write all bytes, and shut down.
type Stream interface {
	// Read reads into p, returning the number of bytes read. A return of
	// (0, nil) never happens for a live connection; (0, io.EOF) signals a
	// clean close by the peer.
	Read(p []byte) (int, error)
	// Write writes all of p or returns an error; partial writes are not
	// surfaced to the caller.
	Write(p []byte) (int, error)
	// SetReadDeadline bounds the next Read call the way net.Conn does,
	// enabling the Connection Manager's non-fatal read-timeout behavior.
	SetReadDeadline(t time.Time) error
	// Close shuts down the stream and releases its underlying resources.
	Close() error
}

// Connector produces a Stream on demand. The Connection Manager keeps an
// ordered list of Connectors and tries each in turn until one succeeds.
type Connector interface {
	// Connect dials the endpoint, honoring ctx's deadline/cancellation.
	Connect(ctx context.Context) (Stream, error)
	// Name is a human-readable label used in logs and ConnectionEvents
	// (e.g. "5G/TCP primary", "Bluetooth RFCOMM fallback").
	Name() string
}
