// Package transfer reconciles a byte-stream data channel with the
// remote store's whole-body request model: uploads are buffered in full
// before any remote call, downloads are written in full before the
// control reply.
package transfer

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gitftp/gitftp/internal/metrics"
)

// DefaultIdleTimeout bounds the wait between reads on an upload data
// channel.
const DefaultIdleTimeout = 10 * time.Second

// ErrIdleTimeout is returned when the client stops sending before
// closing the data channel.
var ErrIdleTimeout = fmt.Errorf("data channel idle timeout")

// Drain reads the data channel to end-of-stream and returns the full
// body. The deadline is reset after every chunk, so a stalled client is
// cut off after idle without bounding the total transfer time. Any
// error, including the idle deadline, means the upload must not reach
// the remote store.
func Drain(conn net.Conn, idle time.Duration) ([]byte, error) {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return nil, err
		}

		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			metrics.RecordUpload(int64(buf.Len()))
			return buf.Bytes(), nil
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrIdleTimeout
			}
			return nil, fmt.Errorf("data channel read: %w", err)
		}
	}
}

// Send writes the full body to the data channel. A short or failed
// write is a transfer failure; the caller must not report success.
func Send(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return fmt.Errorf("data channel write: %w", err)
	}
	if n < len(data) {
		return io.ErrShortWrite
	}
	metrics.RecordDownload(int64(n))
	return nil
}
