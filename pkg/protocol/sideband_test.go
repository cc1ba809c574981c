package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/sideband"
)

func TestSidebandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf, SideBand64k)

	if err := sw.WriteData([]byte("pack-data-1")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := sw.WriteProgress("50%"); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if err := sw.WriteData([]byte("pack-data-2")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := sw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sr := NewSidebandReader(&buf)
	var dataFrames [][]byte
	var progressFrames []string

	for {
		channel, payload, err := sr.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		switch channel {
		case SidebandData:
			dataFrames = append(dataFrames, payload)
		case SidebandProgress:
			progressFrames = append(progressFrames, string(payload))
		}
	}

	if len(dataFrames) != 2 {
		t.Fatalf("data frames: %d, want 2", len(dataFrames))
	}
	if string(dataFrames[0]) != "pack-data-1" {
		t.Fatalf("data[0] = %q", dataFrames[0])
	}
	if string(dataFrames[1]) != "pack-data-2" {
		t.Fatalf("data[1] = %q", dataFrames[1])
	}
	if len(progressFrames) != 1 || progressFrames[0] != "50%" {
		t.Fatalf("progress = %v", progressFrames)
	}
}

func TestSidebandErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf, SideBand)
	if err := sw.WriteError("disk full"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	if got, want := buf.String(), pkt("\x03disk full"); got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}

	dr := NewSidebandDataReader(&buf, nil)
	if _, err := io.ReadAll(dr); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("ReadAll err = %v", err)
	}
}

func TestSidebandChunking(t *testing.T) {
	for _, mode := range []SideBandMode{SideBand, SideBand64k} {
		payload := bytes.Repeat([]byte("x"), 2*mode.ChunkSize()+7)
		var buf bytes.Buffer
		sw := NewSidebandWriter(&buf, mode)
		if _, err := sw.Write(payload); err != nil {
			t.Fatalf("Write: %v", err)
		}

		sc := pktline.NewScanner(bytes.NewReader(buf.Bytes()))
		var sizes []int
		for sc.Scan() {
			sizes = append(sizes, len(sc.Bytes())-1)
		}
		if sc.Err() != nil {
			t.Fatalf("scan: %v", sc.Err())
		}
		want := []int{mode.ChunkSize(), mode.ChunkSize(), 7}
		if len(sizes) != 3 || sizes[0] != want[0] || sizes[1] != want[1] || sizes[2] != want[2] {
			t.Fatalf("mode %d: chunk sizes = %v, want %v", mode, sizes, want)
		}
	}
	if SideBand.ChunkSize() != 995 || SideBand64k.ChunkSize() != 65515 {
		t.Fatalf("chunk sizes = %d/%d", SideBand.ChunkSize(), SideBand64k.ChunkSize())
	}
}

func TestSidebandDataReader(t *testing.T) {
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf, SideBand64k)
	_ = sw.WriteData([]byte("hello"))
	_ = sw.WriteProgress("working...")
	_ = sw.WriteData([]byte(" world"))
	_ = sw.Flush()

	var progress []string
	dr := NewSidebandDataReader(&buf, func(msg string) { progress = append(progress, msg) })
	all, err := io.ReadAll(dr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(all) != "hello world" {
		t.Fatalf("data = %q, want %q", all, "hello world")
	}
	if len(progress) != 1 || progress[0] != "working..." {
		t.Fatalf("progress = %v", progress)
	}
}

func TestSidebandMatchesGoGitDemuxer(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 300)
	var buf bytes.Buffer
	sw := NewSidebandWriter(&buf, SideBand)
	if err := sw.WriteProgress("counting\n"); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if _, err := sw.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var progress bytes.Buffer
	d := sideband.NewDemuxer(sideband.Sideband, &buf)
	d.Progress = &progress
	got, err := io.ReadAll(d)
	if err != nil {
		t.Fatalf("demux: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("demuxed %d bytes, want %d", len(got), len(payload))
	}
	if progress.String() != "counting\n" {
		t.Fatalf("progress = %q", progress.String())
	}
}
