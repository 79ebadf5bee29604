// Package seqcounter provides the monotonic sequence-id counter shared by
// the Connection Manager's heartbeats and the Command Executor's Acks, so
// every envelope a device sends carries a single non-decreasing sequence
// regardless of which component produced it.
package seqcounter

import "sync/atomic"

// Counter is a thread-safe monotonic counter. The zero value starts at 1 on
// the first call to Next.
type Counter struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}
