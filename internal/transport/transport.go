package transport

import (
	"io"
)

// ConnIO wraps the connection handed to jsonrpc2 so that the server can recover the
// transport connection (and its session) from a *jsonrpc2.Connection.
type ConnIO struct {
	_     struct{}
	Inner io.ReadWriteCloser
}

func (c *ConnIO) Read(p []byte) (n int, err error) {
	return c.Inner.Read(p)
}

func (c *ConnIO) Write(p []byte) (n int, err error) {
	return c.Inner.Write(p)
}

func (c *ConnIO) Close() error {
	return c.Inner.Close()
}

func NewConnIO(inner io.ReadWriteCloser) *ConnIO {
	return &ConnIO{Inner: inner}
}
