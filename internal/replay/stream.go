package replay

import (
	"errors"
	"io"
	"sync"
	"time"
)

// Stream plays a capture back as a byte stream. Reads return the recorded
// chunks at their recorded pace; writes are accepted and discarded. The
// stream ends with io.EOF once a non-looping capture is exhausted.
type Stream struct {
	pr *io.PipeReader

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func OpenStream(path string, speed float64, loop bool) (*Stream, error) {
	recs, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStream(recs, speed, loop)
}

func NewStream(records []Record, speed float64, loop bool) (*Stream, error) {
	return newStream(records, speed, loop, nil)
}

// waiter pauses playback between chunks. wait returns false once playback
// should end.
type waiter interface {
	wait(d time.Duration) bool
}

func newStream(records []Record, speed float64, loop bool, w waiter) (*Stream, error) {
	if speed <= 0 {
		return nil, errors.New("replay speed must be > 0")
	}
	if len(records) == 0 {
		return nil, errors.New("no records")
	}

	pr, pw := io.Pipe()
	s := &Stream{
		pr:   pr,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if w == nil {
		w = stopWaiter(s.stop)
	}

	go func() {
		defer close(s.done)
		err := play(records, speed, loop, w, func(chunk []byte) error {
			_, err := pw.Write(chunk)
			return err
		})
		_ = pw.CloseWithError(err)
	}()
	return s, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	select {
	case <-s.stop:
		return 0, io.ErrClosedPipe
	default:
		return len(p), nil
	}
}

// Close stops playback and waits for the player goroutine to exit.
func (s *Stream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		_ = s.pr.Close()
	})
	<-s.done
	return nil
}

// play emits every chunk, waiting the recorded gap divided by speed before
// each one after the first of its segment. It returns nil at the end of a
// non-looping capture and io.EOF when w ends playback early.
func play(records []Record, speed float64, loop bool, w waiter, emit func([]byte) error) error {
	for {
		var prev time.Duration
		first := true
		for _, r := range records {
			if r.isStart() {
				first = true
				continue
			}
			if !first {
				if gap := time.Duration(float64(r.At-prev) / speed); gap > 0 && !w.wait(gap) {
					return io.EOF
				}
			}
			if err := emit(r.Chunk); err != nil {
				return err
			}
			prev, first = r.At, false
		}
		if !loop {
			return nil
		}
	}
}

type stopWaiter <-chan struct{}

func (sw stopWaiter) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-sw:
		return false
	}
}
