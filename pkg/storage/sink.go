package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// Sink receives a downloaded blob. Receive must leave no partial content visible when it
// returns an error.
type Sink interface {
	Receive(r io.Reader) error
}

// BufferSink collects content in memory.
type BufferSink struct {
	buf *bytes.Buffer
}

// NewBufferSink appends downloads to buf. On failure buf is truncated back to the length it
// had when the download started.
func NewBufferSink(buf *bytes.Buffer) *BufferSink {
	return &BufferSink{buf: buf}
}

func (s *BufferSink) Receive(r io.Reader) error {
	mark := s.buf.Len()
	if _, err := s.buf.ReadFrom(r); err != nil {
		s.buf.Truncate(mark)
		return err
	}
	return nil
}

// Bytes returns the collected content.
func (s *BufferSink) Bytes() []byte { return s.buf.Bytes() }

// FileSink writes to a temporary file next to Path and renames it into place on success.
// A pre-existing file at Path is left untouched when the download fails.
type FileSink struct {
	Path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (s *FileSink) Receive(r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(s.Path, r)
}

// trackingReader stops a stream as soon as its context ends, counts the bytes handed out
// and remembers whether the underlying reader failed, so the Store can tell a failing source
// or backend stream apart from a failing destination.
type trackingReader struct {
	ctx context.Context
	r   io.Reader
	n   uint64
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := t.r.Read(p)
	t.n += uint64(n)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
