package runner

import "fmt"

// DefaultMaxOutputBytes bounds the bytes kept per output stream.
const DefaultMaxOutputBytes = 1 << 20

// tailBuffer is an io.Writer that keeps only the last limit bytes written to
// it. A limit of zero or less keeps everything.
type tailBuffer struct {
	limit   int
	data    []byte
	start   int
	written int64
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.written += int64(n)
	if b.limit <= 0 {
		b.data = append(b.data, p...)
		return n, nil
	}

	if len(p) > b.limit {
		p = p[len(p)-b.limit:]
	}
	if room := b.limit - len(b.data); room > 0 {
		take := min(room, len(p))
		b.data = append(b.data, p[:take]...)
		p = p[take:]
	}
	// Once full, data is a ring whose oldest byte sits at start.
	for len(p) > 0 {
		copied := copy(b.data[b.start:], p)
		p = p[copied:]
		b.start = (b.start + copied) % b.limit
	}
	return n, nil
}

// Dropped reports how many leading bytes were discarded.
func (b *tailBuffer) Dropped() int64 {
	return b.written - int64(len(b.data))
}

// String returns the retained tail, prefixed with a notice when bytes were
// discarded.
func (b *tailBuffer) String() string {
	tail := string(b.data[b.start:]) + string(b.data[:b.start])
	if dropped := b.Dropped(); dropped > 0 {
		return fmt.Sprintf("[output truncated: %d bytes omitted]\n", dropped) + tail
	}
	return tail
}
