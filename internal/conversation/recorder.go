package conversation

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/agrospeak/agrospeak/internal/stt"
)

// Recorder begins audio captures.
type Recorder interface {
	Start(ctx context.Context) (Capture, error)
}

// Capture is one in-progress recording.
type Capture interface {
	// Write appends audio bytes.
	Write(p []byte) (int, error)

	// Stop ends the capture and returns the recording.
	Stop(ctx context.Context) (stt.Audio, error)

	// Cancel discards the capture.
	Cancel()
}

// BufferRecorder collects streamed audio in memory. Clients push bytes
// through Capture.Write.
type BufferRecorder struct {
	// MaxBytes caps a capture; zero means unlimited.
	MaxBytes int

	// ContentType is stamped on the resulting audio. Defaults to audio/wav.
	ContentType string
}

// Start returns a new empty capture.
func (r BufferRecorder) Start(context.Context) (Capture, error) {
	ct := r.ContentType
	if ct == "" {
		ct = "audio/wav"
	}
	return &bufferCapture{max: r.MaxBytes, contentType: ct}, nil
}

type bufferCapture struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	max         int
	contentType string
	done        bool
}

func (c *bufferCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return 0, fmt.Errorf("%w: capture already ended", ErrCapture)
	}
	if c.max > 0 && c.buf.Len()+len(p) > c.max {
		return 0, fmt.Errorf("%w: recording exceeds %d bytes", ErrCapture, c.max)
	}
	return c.buf.Write(p)
}

func (c *bufferCapture) Stop(context.Context) (stt.Audio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return stt.Audio{}, fmt.Errorf("%w: capture already ended", ErrCapture)
	}
	c.done = true
	if c.buf.Len() == 0 {
		return stt.Audio{}, fmt.Errorf("%w: no audio captured", ErrCapture)
	}
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	return stt.Audio{Data: data, ContentType: c.contentType}, nil
}

func (c *bufferCapture) Cancel() {
	c.mu.Lock()
	c.done = true
	c.buf.Reset()
	c.mu.Unlock()
}
