package runner

import (
	"bytes"
	"strings"
	"sync"
)

const DefaultTailLines = 40

// TailWriter keeps the last n lines written to it.
type TailWriter struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial bytes.Buffer
}

func NewTailWriter(n int) *TailWriter {
	if n <= 0 {
		n = DefaultTailLines
	}
	return &TailWriter{n: n}
}

func (t *TailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			t.push(strings.TrimRight(t.partial.String(), "\r"))
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *TailWriter) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *TailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if t.partial.Len() > 0 {
		lines = append(append([]string(nil), lines...), t.partial.String())
		if len(lines) > t.n {
			lines = lines[len(lines)-t.n:]
		}
	}
	return strings.Join(lines, "\n")
}
