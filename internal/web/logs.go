package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// LogBuffer is a fixed ring of recent log lines and a zapcore.WriteSyncer,
// so the logger can tee into it. Older lines are overwritten once the ring
// is full.
type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	next    int
	full    bool
	pending []byte
	evicted uint64
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &LogBuffer{ring: make([]string, capacity)}
}

// Write stores every complete line in p. Text after the last newline waits
// for the next Write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	if len(b.pending) > 0 {
		rest = append(b.pending, p...)
		b.pending = nil
	}
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		b.pushLocked(string(bytes.TrimRight(rest[:i], "\r")))
		rest = rest[i+1:]
	}
	if len(rest) > 0 {
		b.pending = append([]byte(nil), rest...)
	}
	return len(p), nil
}

func (b *LogBuffer) Sync() error { return nil }

func (b *LogBuffer) pushLocked(line string) {
	if line == "" {
		return
	}
	if b.full {
		b.evicted++
	}
	b.ring[b.next] = line
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
}

func (b *LogBuffer) lenLocked() int {
	if b.full {
		return len(b.ring)
	}
	return b.next
}

// Snapshot returns the newest n lines, oldest first, and how many lines
// have been overwritten so far. n <= 0 means all of them.
func (b *LogBuffer) Snapshot(n int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.lenLocked()
	if n <= 0 || n > size {
		n = size
	}
	lines = make([]string, n)
	start := b.next - n
	if start < 0 {
		start += len(b.ring)
	}
	for i := range lines {
		lines[i] = b.ring[(start+i)%len(b.ring)]
	}
	return lines, b.evicted
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Handler serves GET ?tail=N[&format=text].
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		tail, err := queryInt(r, "tail", 200, 1, 5000)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		lines, dropped := b.Snapshot(tail)
		w.Header().Set("Cache-Control", "no-store")
		if !strings.EqualFold(r.URL.Query().Get("format"), "text") {
			writeJSON(w, http.StatusOK, LogsResponse{
				NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
				Dropped: dropped,
				Lines:   lines,
			})
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		var out strings.Builder
		if dropped > 0 {
			fmt.Fprintf(&out, "# %d older lines dropped\n", dropped)
		}
		for _, line := range lines {
			out.WriteString(line)
			out.WriteByte('\n')
		}
		_, _ = w.Write([]byte(out.String()))
	})
}
