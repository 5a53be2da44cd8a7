package executor

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
)

const tailSize = 64

var exitLine = regexp.MustCompile(regexp.QuoteMeta(ExitMarker) + `(-?\d+)\s*$`)

// Output is the collected result of one unit's output stream.
type Output struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	HasExitCode bool // false when the exit line never arrived (killed, truncated)
	Truncated   bool
}

// Collector demultiplexes a Docker-framed stream into stdout and stderr.
// Snapshot may be called while Consume is still running, which is how
// partial output is recovered at a deadline.
type Collector struct {
	mu     sync.Mutex
	stdout capBuffer
	stderr capBuffer
}

// NewCollector caps each stream at limit bytes. Zero means unlimited.
func NewCollector(limit int) *Collector {
	return &Collector{
		stdout: capBuffer{limit: limit},
		stderr: capBuffer{limit: limit},
	}
}

// Consume copies r until EOF or error. A stream cut mid-frame keeps
// everything received up to that point.
func (c *Collector) Consume(r io.Reader) error {
	_, err := stdcopy.StdCopy(&lockedWriter{c: c, b: &c.stdout}, &lockedWriter{c: c, b: &c.stderr}, r)
	return err
}

// Snapshot assembles the output received so far.
func (c *Collector) Snapshot() Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out Output
	stdout, stdoutDropped := c.stdout.buf.String(), c.stdout.dropped
	if loc := exitLine.FindSubmatchIndex(c.stdout.tail); loc != nil {
		if code, err := strconv.Atoi(string(c.stdout.tail[loc[2]:loc[3]])); err == nil {
			out.ExitCode = code
			out.HasExitCode = true
		}
		// The exit line, and the newline printed before it, is not program
		// output and does not count against the cap.
		start := loc[0]
		if start > 0 && c.stdout.tail[start-1] == '\n' {
			start--
		}
		body := int64(len(stdout)) + stdoutDropped - int64(len(c.stdout.tail)-start)
		if body < int64(len(stdout)) {
			stdout, stdoutDropped = stdout[:body], 0
		} else {
			stdoutDropped = body - int64(len(stdout))
		}
	}

	out.Stdout = finish(stdout, stdoutDropped)
	out.Stderr = finish(c.stderr.buf.String(), c.stderr.dropped)
	out.Truncated = stdoutDropped > 0 || c.stderr.dropped > 0
	return out
}

type lockedWriter struct {
	c *Collector
	b *capBuffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.b.write(p)
	return len(p), nil
}

// capBuffer keeps the first limit bytes plus a short tail of the latest bytes,
// so the exit line is still readable when the body overflowed.
type capBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
	tail    []byte
}

func (b *capBuffer) write(p []byte) {
	b.tail = append(b.tail, p...)
	if len(b.tail) > tailSize {
		b.tail = append(b.tail[:0], b.tail[len(b.tail)-tailSize:]...)
	}

	if b.limit <= 0 {
		b.buf.Write(p)
		return
	}
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.dropped += int64(len(p))
		return
	}
	if len(p) > room {
		b.dropped += int64(len(p) - room)
		p = p[:room]
	}
	b.buf.Write(p)
}

func finish(s string, dropped int64) string {
	s = strings.TrimSpace(s)
	if dropped > 0 {
		s += fmt.Sprintf("\n[output truncated: %d bytes omitted]", dropped)
	}
	return s
}
