package log

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

// CircularBuffer keeps the most recent lines written to it. It is used to
// retain the tail of a command's output so that it can be reported when the
// command fails.
//
// It is safe for concurrent use and implements [io.Writer] and
// [io.WriterTo].
type CircularBuffer struct {
	lines    []string
	partial  []byte
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new buffer holding at most capacity lines.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = 100
	}

	return &CircularBuffer{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

// Add appends a single line, evicting the oldest line when full.
func (cb *CircularBuffer) Add(line string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.add(line)
}

func (cb *CircularBuffer) add(line string) {
	cb.lines[cb.head] = line
	cb.head = (cb.head + 1) % cb.capacity

	if cb.size < cb.capacity {
		cb.size++
	}
}

// Write splits p into lines and adds each complete line. A trailing partial
// line is held until it is completed by a later write.
func (cb *CircularBuffer) Write(p []byte) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	data := append(cb.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}

		cb.add(strings.TrimSuffix(string(data[:i]), "\r"))
		data = data[i+1:]
	}

	cb.partial = bytes.Clone(data)

	return len(p), nil
}

// Lines returns the buffered lines, oldest first.
func (cb *CircularBuffer) Lines() []string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.size == 0 {
		return nil
	}

	out := make([]string, 0, cb.size)
	start := (cb.head - cb.size + cb.capacity) % cb.capacity

	for i := range cb.size {
		out = append(out, cb.lines[(start+i)%cb.capacity])
	}

	return out
}

// Len returns the current number of lines.
func (cb *CircularBuffer) Len() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return cb.size
}

// Capacity returns the maximum number of lines the buffer can hold.
func (cb *CircularBuffer) Capacity() int {
	return cb.capacity
}

// IsFull returns true if the buffer has reached its maximum capacity.
func (cb *CircularBuffer) IsFull() bool {
	return cb.Len() == cb.capacity
}

// Clear removes all lines, including any partial line.
func (cb *CircularBuffer) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.size = 0
	cb.head = 0
	cb.partial = nil
	clear(cb.lines)
}

// WriteTo writes all lines to w, each terminated by a newline.
func (cb *CircularBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, cb.String())
	if err != nil {
		return int64(n), fmt.Errorf("write lines: %w", err)
	}

	return int64(n), nil
}

func (cb *CircularBuffer) String() string {
	lines := cb.Lines()
	if len(lines) == 0 {
		return ""
	}

	return strings.Join(lines, "\n") + "\n"
}
