// Package replay records raw link bytes to a capture file and plays them
// back with their original pacing.
package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Capture format, one entry per line:
//
//	# comment
//	START
//	<t_ns>,<hex>
//
// t_ns is nanoseconds since the preceding START and hex is one chunk of
// bytes exactly as it was read from the link. Chunks do not align with
// MAVLink frames; the parser on the replay side reassembles them.

const startMarker = "START"

// Record is one capture line. A nil Chunk marks a START line.
type Record struct {
	At    time.Duration
	Chunk []byte
}

func (r Record) isStart() bool { return r.Chunk == nil }

// ReadFile loads every record of the capture at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a whole capture. Blank lines and comments are skipped; any
// other malformed line fails the parse with its line number.
func Parse(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var recs []Record
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "", strings.HasPrefix(line, "#"):
			continue
		case line == startMarker:
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseChunkLine(line)
		if err != nil {
			return nil, fmt.Errorf("capture line %d: %w", n, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseChunkLine(line string) (Record, error) {
	ts, payload, ok := strings.Cut(line, ",")
	if !ok {
		return Record{}, errors.New("missing comma")
	}
	ts = strings.TrimSpace(ts)
	payload = strings.ReplaceAll(strings.TrimSpace(payload), " ", "")
	if ts == "" || payload == "" {
		return Record{}, errors.New("empty field")
	}

	ns, err := strconv.ParseInt(ts, 10, 64)
	switch {
	case err != nil:
		return Record{}, fmt.Errorf("timestamp: %w", err)
	case ns < 0:
		return Record{}, fmt.Errorf("negative timestamp %d", ns)
	}
	chunk, err := hex.DecodeString(payload)
	if err != nil {
		return Record{}, fmt.Errorf("payload: %w", err)
	}
	return Record{At: time.Duration(ns), Chunk: chunk}, nil
}

var errWriterClosed = errors.New("capture writer is closed")

// Writer appends chunks to a capture file. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	buf   *bufio.Writer
	line  []byte
	start time.Time
}

// CreateWriter truncates path and opens a new segment in it.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, buf: bufio.NewWriterSize(f, 64*1024), start: time.Now()}
	if _, err := w.buf.WriteString(startMarker + "\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// WriteChunk stamps chunk with its offset from the segment start. Empty
// chunks are ignored.
func (w *Writer) WriteChunk(now time.Time, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return errWriterClosed
	}

	w.line = strconv.AppendInt(w.line[:0], max(now.Sub(w.start), 0).Nanoseconds(), 10)
	w.line = append(w.line, ',')
	w.line = append(w.line, hex.EncodeToString(chunk)...)
	w.line = append(w.line, '\n')
	_, err := w.buf.Write(w.line)
	return err
}

// Close flushes and closes the file. Later calls do nothing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	return errors.Join(w.buf.Flush(), f.Close())
}
