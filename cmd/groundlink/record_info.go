package main

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/spf13/cobra"

	"groundlink/internal/replay"
)

var recordInfoCmd = &cobra.Command{
	Use:   "record-info <capture>",
	Short: "Summarize a link capture",
	Long:  "record-info reads a capture written with link.record_path and counts the MAVLink frames in it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := strings.TrimSpace(args[0])
		recs, err := replay.ReadFile(path)
		if err != nil {
			return err
		}
		printCaptureSummary(cmd.OutOrStdout(), path, summarizeCapture(recs))
		return nil
	},
}

type captureSummary struct {
	Segments    int
	Chunks      int
	Bytes       int
	Frames      int
	Skipped     int
	MaxDuration time.Duration
	MsgCounts   map[uint32]int
}

// summarizeCapture counts frames per message id. Frames are located by
// their start byte and length only; CRCs are not checked.
func summarizeCapture(records []replay.Record) captureSummary {
	s := captureSummary{MsgCounts: map[uint32]int{}}
	var segment []byte
	flush := func() {
		frames, skipped := scanFrames(segment, func(id uint32) { s.MsgCounts[id]++ })
		s.Frames += frames
		s.Skipped += skipped
		segment = segment[:0]
	}

	hasChunks := false
	for _, r := range records {
		if r.Chunk == nil {
			flush()
			s.Segments++
			continue
		}
		hasChunks = true
		s.Chunks++
		s.Bytes += len(r.Chunk)
		if r.At > s.MaxDuration {
			s.MaxDuration = r.At
		}
		segment = append(segment, r.Chunk...)
	}
	flush()
	if s.Segments == 0 && hasChunks {
		s.Segments = 1
	}
	return s
}

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	headerLenV1  = 6
	headerLenV2  = 10
	checksumLen  = 2
	signatureLen = 13
	flagSigned   = 0x01
)

// scanFrames walks buf and calls fn with the id of every complete frame.
// Bytes outside frames and a truncated trailing frame count as skipped.
func scanFrames(buf []byte, fn func(id uint32)) (frames, skipped int) {
	for i := 0; i < len(buf); {
		var total int
		var id uint32
		switch buf[i] {
		case magicV1:
			if len(buf)-i < headerLenV1 {
				return frames, skipped + len(buf) - i
			}
			total = headerLenV1 + int(buf[i+1]) + checksumLen
			id = uint32(buf[i+5])
		case magicV2:
			if len(buf)-i < headerLenV2 {
				return frames, skipped + len(buf) - i
			}
			total = headerLenV2 + int(buf[i+1]) + checksumLen
			if buf[i+2]&flagSigned != 0 {
				total += signatureLen
			}
			id = uint32(buf[i+7]) | uint32(buf[i+8])<<8 | uint32(buf[i+9])<<16
		default:
			skipped++
			i++
			continue
		}
		if len(buf)-i < total {
			return frames, skipped + len(buf) - i
		}
		fn(id)
		frames++
		i += total
	}
	return frames, skipped
}

var messageNames = func() map[uint32]string {
	names := make(map[uint32]string, len(common.Dialect.Messages))
	for _, m := range common.Dialect.Messages {
		t := reflect.TypeOf(m)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		names[m.GetID()] = upperSnake(strings.TrimPrefix(t.Name(), "Message"))
	}
	return names
}()

// upperSnake turns GpsRawInt into GPS_RAW_INT.
func upperSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			prev := rune(s[i-1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func messageName(id uint32) string {
	if n, ok := messageNames[id]; ok {
		return n
	}
	return fmt.Sprintf("MSG_%d", id)
}

func printCaptureSummary(w io.Writer, path string, s captureSummary) {
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "chunks: %d\n", s.Chunks)
	fmt.Fprintf(w, "bytes: %d\n", s.Bytes)
	fmt.Fprintf(w, "frames: %d\n", s.Frames)
	fmt.Fprintf(w, "skipped_bytes: %d\n", s.Skipped)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)

	ids := make([]uint32, 0, len(s.MsgCounts))
	for id := range s.MsgCounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Fprintf(w, "messages:\n")
	for _, id := range ids {
		fmt.Fprintf(w, "  %d %s: %d\n", id, messageName(id), s.MsgCounts[id])
	}
}
