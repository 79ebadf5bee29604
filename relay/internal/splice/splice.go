// Package splice implements the Relay Node's byte-transparent forwarding:
// two opposed copy loops between an accepted inbound stream and a dialed
// outbound stream. It never parses the framed messages flowing through
// it — framing integrity is the endpoints' responsibility.
package splice

import (
	"io"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/shared/transport"
)

// bufSize is the scratch buffer size for each copy direction.
const bufSize = 4096

// Run splices inbound and outbound bidirectionally until either side
// returns EOF or an error, then closes both. Blocks until both copy
// directions have terminated. id is a correlation id for log lines.
func Run(inbound, outbound transport.Stream, logger *zap.Logger, id string) {
	done := make(chan struct{}, 2)

	go func() {
		copyDirection(inbound, outbound, logger, id, "inbound->outbound")
		done <- struct{}{}
	}()
	go func() {
		copyDirection(outbound, inbound, logger, id, "outbound->inbound")
		done <- struct{}{}
	}()

	<-done
	inbound.Close()
	outbound.Close()
	<-done
}

func copyDirection(src, dst transport.Stream, logger *zap.Logger, id, direction string) {
	buf := make([]byte, bufSize)
	n, err := io.CopyBuffer(writerOnly{dst}, readerOnly{src}, buf)
	logger.Debug("splice direction closed",
		zap.String("connection_id", id),
		zap.String("direction", direction),
		zap.Int64("bytes", n),
		zap.Error(err),
	)
}

// readerOnly and writerOnly narrow transport.Stream to the single method
// io.CopyBuffer needs, so it can't accidentally call Close on one side
// mid-copy.
type readerOnly struct{ s transport.Stream }

func (r readerOnly) Read(p []byte) (int, error) { return r.s.Read(p) }

type writerOnly struct{ s transport.Stream }

func (w writerOnly) Write(p []byte) (int, error) { return w.s.Write(p) }
