package plog

import (
	"bytes"
	"io"
	"os"
)

// outputCapturer redirects the process's stdout and stderr into an
// in-memory buffer for the duration of one execution frame. Frames nest
// LIFO, so each capturer saves whatever os.Stdout/os.Stderr pointed at
// when it started (possibly an outer frame's pipe) and restores exactly
// that on Stop.
type outputCapturer struct {
	prevStdout *os.File
	prevStderr *os.File
	w          *os.File
	done       chan struct{}
	buf        bytes.Buffer
}

func startOutputCapture() (*outputCapturer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	c := &outputCapturer{
		prevStdout: os.Stdout,
		prevStderr: os.Stderr,
		w:          w,
		done:       make(chan struct{}),
	}
	os.Stdout = w
	os.Stderr = w
	go func() {
		_, _ = io.Copy(&c.buf, r)
		_ = r.Close()
		close(c.done)
	}()
	return c, nil
}

// Stop restores the previous stdout/stderr, drains the pipe, and returns
// everything captured since the capturer started.
func (c *outputCapturer) Stop() string {
	os.Stdout = c.prevStdout
	os.Stderr = c.prevStderr
	_ = c.w.Close()
	<-c.done
	return c.buf.String()
}
