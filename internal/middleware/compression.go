// Package middleware holds gin middleware shared by the HTTP server.
package middleware

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // smallest body worth compressing, in bytes
	CompressionLevel int      // gzip level, 1-9
	ContentTypes     []string // content type prefixes to compress
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/csv",
			"text/plain",
			"text/html",
		},
	}
}

// Compression gzips large textual responses for clients that accept it
type Compression struct {
	config CompressionConfig
	pool   sync.Pool

	totalRequests      atomic.Int64
	compressedRequests atomic.Int64
	totalBytes         atomic.Int64
	compressedBytes    atomic.Int64
}

// NewCompression creates the compression middleware
func NewCompression(config CompressionConfig) *Compression {
	if config.MinSize <= 0 {
		config.MinSize = DefaultCompressionConfig().MinSize
	}
	level := config.CompressionLevel
	if level == 0 || level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	c := &Compression{config: config}
	c.pool.New = func() interface{} {
		gz, _ := gzip.NewWriterLevel(nil, level)
		return gz
	}
	return c
}

// Handler returns the gin middleware
func (cm *Compression) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !acceptsGzip(c.Request) || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		original := c.Writer
		w := &gzipResponseWriter{ResponseWriter: original, cm: cm, status: http.StatusOK}
		c.Writer = w
		defer func() {
			w.finish()
			c.Writer = original
		}()

		c.Next()
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(coding, "gzip") {
			return true
		}
	}
	return false
}

func (cm *Compression) shouldCompress(h http.Header) bool {
	if h.Get("Content-Encoding") != "" {
		return false
	}
	contentType := h.Get("Content-Type")
	for _, ct := range cm.config.ContentTypes {
		if strings.HasPrefix(contentType, ct) {
			return true
		}
	}
	return false
}

// gzipResponseWriter buffers the start of a body until it knows whether the
// response is large enough to compress
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm      *Compression
	status  int
	buf     bytes.Buffer
	gz      *gzip.Writer
	decided bool
	written int64
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if !w.decided {
		w.status = code
	}
}

// WriteHeaderNow is deferred until the body size is known
func (w *gzipResponseWriter) WriteHeaderNow() {}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	w.written += int64(len(data))
	if w.decided {
		if w.gz != nil {
			return w.gz.Write(data)
		}
		return w.ResponseWriter.Write(data)
	}

	w.buf.Write(data)
	if w.buf.Len() >= w.cm.config.MinSize {
		if err := w.decide(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipResponseWriter) Written() bool {
	return w.decided || w.buf.Len() > 0
}

func (w *gzipResponseWriter) Status() int {
	if !w.decided {
		return w.status
	}
	return w.ResponseWriter.Status()
}

func (w *gzipResponseWriter) decide() error {
	w.decided = true
	header := w.ResponseWriter.Header()
	if w.buf.Len() >= w.cm.config.MinSize && w.cm.shouldCompress(header) {
		header.Set("Content-Encoding", "gzip")
		header.Add("Vary", "Accept-Encoding")
		header.Del("Content-Length")
		w.ResponseWriter.WriteHeader(w.status)

		w.gz = w.cm.pool.Get().(*gzip.Writer)
		w.gz.Reset(w.ResponseWriter)
		_, err := w.gz.Write(w.buf.Bytes())
		w.buf.Reset()
		return err
	}

	w.ResponseWriter.WriteHeader(w.status)
	if w.buf.Len() == 0 {
		w.ResponseWriter.WriteHeaderNow()
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}

func (w *gzipResponseWriter) finish() {
	if !w.decided {
		_ = w.decide()
	}
	w.cm.totalRequests.Add(1)
	w.cm.totalBytes.Add(w.written)
	if w.gz == nil {
		return
	}
	_ = w.gz.Close()
	w.cm.pool.Put(w.gz)
	w.gz = nil
	w.cm.compressedRequests.Add(1)
	w.cm.compressedBytes.Add(int64(w.ResponseWriter.Size()))
}

func (w *gzipResponseWriter) Flush() {
	if !w.decided {
		_ = w.decide()
	}
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

func (w *gzipResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("response writer does not implement http.Hijacker")
}

// GetStats returns compression statistics
func (cm *Compression) GetStats() map[string]interface{} {
	total := cm.totalBytes.Load()
	compressedRequests := cm.compressedRequests.Load()
	ratio := float64(0)
	if total > 0 && compressedRequests > 0 {
		ratio = float64(cm.compressedBytes.Load()) / float64(total)
	}
	return map[string]interface{}{
		"total_requests":      cm.totalRequests.Load(),
		"compressed_requests": compressedRequests,
		"total_bytes":         total,
		"compressed_bytes":    cm.compressedBytes.Load(),
		"compression_ratio":   ratio,
	}
}
