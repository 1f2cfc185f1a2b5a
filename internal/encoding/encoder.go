// Package encoding renders API responses with go-json and pooled buffers.
package encoding

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// maxPooledBuffer keeps oversized buffers from pinning memory in the pool
const maxPooledBuffer = 1 << 20

// Encoder marshals values into pooled buffers
type Encoder struct {
	pool    sync.Pool
	gets    atomic.Int64
	news    atomic.Int64
	dropped atomic.Int64
}

// NewEncoder creates an encoder with an empty buffer pool
func NewEncoder() *Encoder {
	e := &Encoder{}
	e.pool.New = func() interface{} {
		e.news.Add(1)
		return new(bytes.Buffer)
	}
	return e
}

func (e *Encoder) getBuffer() *bytes.Buffer {
	e.gets.Add(1)
	buf := e.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (e *Encoder) putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		e.dropped.Add(1)
		return
	}
	e.pool.Put(buf)
}

// Marshal encodes v without the trailing newline
func (e *Encoder) Marshal(v interface{}) ([]byte, error) {
	buf := e.getBuffer()
	defer e.putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return append([]byte(nil), data...), nil
}

// Encode writes v to w as one JSON document
func (e *Encoder) Encode(w io.Writer, v interface{}) error {
	buf := e.getBuffer()
	defer e.putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Render writes v as the JSON response body with status code
func (e *Encoder) Render(c *gin.Context, code int, v interface{}) {
	buf := e.getBuffer()
	defer e.putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to encode response"})
		return
	}
	c.Data(code, "application/json; charset=utf-8", buf.Bytes())
}

// GetStats returns buffer pool statistics
func (e *Encoder) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"buffer_gets":    e.gets.Load(),
		"buffer_allocs":  e.news.Load(),
		"buffer_dropped": e.dropped.Load(),
	}
}

var defaultEncoder = NewEncoder()

// Default returns the shared encoder
func Default() *Encoder { return defaultEncoder }

// Render writes v with the shared encoder
func Render(c *gin.Context, code int, v interface{}) {
	defaultEncoder.Render(c, code, v)
}
