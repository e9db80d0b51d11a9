package idempotency

import (
	"bytes"
	"net/http"
)

// captureWriter buffers a handler's response until it has been stored.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *captureWriter) reply() Reply {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return Reply{Status: status, Header: c.header.Clone(), Body: c.body.Bytes()}
}

// writeTo sends the buffered response. Headers already set on w, such as a refreshed session
// cookie, are kept.
func (c *captureWriter) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.reply().Status)
	if c.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(c.body.Bytes())
	return err
}
