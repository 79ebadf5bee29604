package transport

import (
	"context"
	"testing"
	"time"
)

func TestTCPConnectorRoundTrip(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer ln.Close()

	accepted := make(chan Stream, 1)
	go func() {
		s, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- s
	}()

	connector := NewTCPConnector(ln.Addr().String(), "test")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := connector.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	msg := []byte("hello fleet")
	if _, err := client.Write(msg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(msg))
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("got %q, want %q", buf[:n], msg)
	}
}

func TestTCPConnectorDialFailure(t *testing.T) {
	connector := NewTCPConnector("127.0.0.1:1", "unreachable")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := connector.Connect(ctx); err == nil {
		t.Fatalf("expected dial failure connecting to a closed port")
	}
}
