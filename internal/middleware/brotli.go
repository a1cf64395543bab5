package middleware

import (
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// Responses below this size go out uncompressed; the brotli header overhead
// is not worth it for tiny payloads.
const brotliMinLength = 1024

// brotliResponseWriter buffers output until it knows whether the body is
// large enough to compress. Once the threshold is crossed the encoding
// header is set and everything flows through the brotli encoder.
type brotliResponseWriter struct {
	gin.ResponseWriter
	enc     *brotli.Writer
	pending []byte
	engage  sync.Once
	engaged bool
}

func (w *brotliResponseWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	if len(w.pending) < brotliMinLength {
		return len(p), nil
	}

	w.engage.Do(func() {
		w.engaged = true
		h := w.ResponseWriter.Header()
		h.Set("Content-Encoding", "br")
		h.Del("Content-Length")
	})

	n, err := w.enc.Write(w.pending)
	w.pending = w.pending[:0]
	return n, err
}

func (w *brotliResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush satisfies streaming handlers. Anything still buffered goes out
// uncompressed since the encoding header was never committed.
func (w *brotliResponseWriter) Flush() {
	w.drain()
	w.ResponseWriter.Flush()
}

func (w *brotliResponseWriter) drain() {
	if len(w.pending) == 0 {
		return
	}
	if w.engaged {
		_, _ = w.enc.Write(w.pending)
	} else {
		_, _ = w.ResponseWriter.Write(w.pending)
	}
	w.pending = w.pending[:0]
}

// Brotli compresses JSON responses for clients that advertise br support.
// Event streams and WebSocket upgrades pass through untouched since both
// break under buffered output.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isStreamingRequest(c) || !acceptsBrotli(c) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		w := &brotliResponseWriter{
			ResponseWriter: c.Writer,
			enc:            brotli.NewWriterLevel(c.Writer, brotli.DefaultCompression),
		}
		c.Writer = w

		defer func() {
			w.drain()
			if w.engaged {
				w.enc.Close()
			}
		}()

		c.Next()
	}
}

func isStreamingRequest(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(c *gin.Context) bool {
	for _, enc := range strings.Split(c.GetHeader("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.ToLower(enc)) == "br" {
			return true
		}
	}
	return false
}
