package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/exp/jsonrpc2"
)

const (
	sseMessage = "event: message\ndata: %s\n\n"
	sseEvent   = "event: %s\ndata: %s\n\n"
	sseProbe   = ":\n\n"
)

// DefaultSSEFramer returns the jsonrpc2.Framer for SSE connections.
//
// Inbound messages are raw JSON values. Every outbound message is written as one
// `event: message` frame.
func DefaultSSEFramer() jsonrpc2.Framer {
	return &sseFramer{
		Framer: jsonrpc2.RawFramer(),
	}
}

// compatibility check
var _ jsonrpc2.Framer = (*sseFramer)(nil)

type sseFramer struct {
	jsonrpc2.Framer
}

// Writer implements the jsonrpc2.Framer#Writer
func (s *sseFramer) Writer(w io.Writer) jsonrpc2.Writer {
	return &sseWriter{
		writerFunc: s.Framer.Writer,
		w:          w,
	}
}

// compatibility check
var _ jsonrpc2.Writer = (*sseWriter)(nil)

type sseWriter struct {
	writerFunc func(rw io.Writer) jsonrpc2.Writer
	w          io.Writer
}

// Write See: jsonrpc2.Writer#Write
func (s *sseWriter) Write(ctx context.Context, message jsonrpc2.Message) (int64, error) {
	var buf bytes.Buffer
	if _, err := s.writerFunc(&buf).Write(ctx, message); err != nil {
		return 0, err
	}
	n, err := fmt.Fprintf(s.w, sseMessage, bytes.TrimSpace(buf.Bytes()))
	return int64(n), err
}
