package protocol

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
)

// SideBandMode is the multiplexing the client negotiated.
type SideBandMode int

const (
	NoSideBand SideBandMode = iota
	// SideBand limits packets to 1000 bytes.
	SideBand
	// SideBand64k limits packets to 65520 bytes.
	SideBand64k
)

// Sideband channel identifiers.
const (
	SidebandData     byte = 0x01
	SidebandProgress byte = 0x02
	SidebandError    byte = 0x03
)

// Largest payload per packet after the 4-byte length and the channel byte.
const (
	sideBandChunk    = 1000 - 5
	sideBand64kChunk = 65520 - 5
)

// ChunkSize returns the largest payload one side-band packet can carry.
func (m SideBandMode) ChunkSize() int {
	if m == SideBand64k {
		return sideBand64kChunk
	}
	return sideBandChunk
}

// SidebandWriter writes side-band frames as pkt-lines:
// [4 hex digits length][1 byte channel][payload]. Payloads larger than the
// negotiated packet size are split.
type SidebandWriter struct {
	enc   *pktline.Encoder
	chunk int
	frame []byte
}

func NewSidebandWriter(w io.Writer, mode SideBandMode) *SidebandWriter {
	chunk := mode.ChunkSize()
	return &SidebandWriter{enc: pktline.NewEncoder(w), chunk: chunk, frame: make([]byte, 0, chunk+1)}
}

func (sw *SidebandWriter) writeFrame(channel byte, data []byte) error {
	for first := true; first || len(data) > 0; first = false {
		n := min(len(data), sw.chunk)
		sw.frame = append(append(sw.frame[:0], channel), data[:n]...)
		if err := sw.enc.Encode(sw.frame); err != nil {
			return fmt.Errorf("write side-band frame: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// Write sends p on the data channel, so a pack writer can stream through
// the multiplexer.
func (sw *SidebandWriter) Write(p []byte) (int, error) {
	if err := sw.WriteData(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (sw *SidebandWriter) WriteData(data []byte) error {
	return sw.writeFrame(SidebandData, data)
}

func (sw *SidebandWriter) WriteProgress(msg string) error {
	return sw.writeFrame(SidebandProgress, []byte(msg))
}

func (sw *SidebandWriter) WriteError(msg string) error {
	return sw.writeFrame(SidebandError, []byte(msg))
}

// Flush ends the multiplexed stream.
func (sw *SidebandWriter) Flush() error {
	return sw.enc.Flush()
}

// SidebandReader reads side-band pkt-line frames.
type SidebandReader struct {
	sc *pktline.Scanner
}

func NewSidebandReader(r io.Reader) *SidebandReader {
	return &SidebandReader{sc: pktline.NewScanner(r)}
}

// ReadFrame reads one frame, returning channel and payload. It returns
// io.EOF at a flush packet or the end of input.
func (sr *SidebandReader) ReadFrame() (byte, []byte, error) {
	if !sr.sc.Scan() {
		if err := sr.sc.Err(); err != nil {
			return 0, nil, err
		}
		return 0, nil, io.EOF
	}
	frame := sr.sc.Bytes()
	if len(frame) == 0 {
		return 0, nil, io.EOF
	}
	payload := make([]byte, len(frame)-1)
	copy(payload, frame[1:])
	return frame[0], payload, nil
}

// SidebandDataReader presents data frames as a sequential io.Reader,
// discarding progress frames (or forwarding them to a callback).
type SidebandDataReader struct {
	sr         *SidebandReader
	onProgress func(string)
	buf        []byte
	done       bool
}

func NewSidebandDataReader(r io.Reader, onProgress func(string)) *SidebandDataReader {
	return &SidebandDataReader{
		sr:         NewSidebandReader(r),
		onProgress: onProgress,
	}
}

func (dr *SidebandDataReader) Read(p []byte) (int, error) {
	for len(dr.buf) == 0 {
		if dr.done {
			return 0, io.EOF
		}
		channel, payload, err := dr.sr.ReadFrame()
		if err == io.EOF {
			dr.done = true
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		switch channel {
		case SidebandData:
			dr.buf = payload
		case SidebandProgress:
			if dr.onProgress != nil {
				dr.onProgress(string(payload))
			}
		case SidebandError:
			return 0, fmt.Errorf("remote error: %s", string(payload))
		}
	}

	n := copy(p, dr.buf)
	dr.buf = dr.buf[n:]
	return n, nil
}
