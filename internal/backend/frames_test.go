package backend

import (
	"io"
	"strings"
	"testing"
)

// chunkedReader serves a fixed byte stream in tiny reads to simulate network
// framing that splits lines mid-way.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collectFrames(t *testing.T, s *frameScanner) []string {
	t.Helper()
	var out []string
	for {
		line, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, line)
	}
}

func TestFrameScanner_SplitLines(t *testing.T) {
	s := newFrameScanner(strings.NewReader("alpha\nbeta\ngamma\n"))
	got := collectFrames(t, s)
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames = %v, want %v", got, want)
		}
	}
}

func TestFrameScanner_PartialTrailingLineYieldedAtEOF(t *testing.T) {
	s := newFrameScanner(strings.NewReader("done\npartial tail"))
	got := collectFrames(t, s)
	if len(got) != 2 || got[1] != "partial tail" {
		t.Fatalf("trailing partial line must be flushed at EOF, got %v", got)
	}
}

func TestFrameScanner_ReassemblesAcrossReads(t *testing.T) {
	// 3-byte reads split every line across multiple Read calls
	s := newFrameScanner(&chunkedReader{data: []byte("data: {\"token\":\"hi\"}\ndata: [DONE]\n"), size: 3})
	got := collectFrames(t, s)
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %v", got)
	}
	if got[0] != `data: {"token":"hi"}` || got[1] != "data: [DONE]" {
		t.Fatalf("frames mangled: %v", got)
	}
}

func TestFrameScanner_StripsCarriageReturn(t *testing.T) {
	s := newFrameScanner(strings.NewReader("one\r\ntwo\r\n"))
	got := collectFrames(t, s)
	if got[0] != "one" || got[1] != "two" {
		t.Fatalf("CRLF not handled: %v", got)
	}
}

func TestSSEData(t *testing.T) {
	if v, ok := sseData("data: hello"); !ok || v != "hello" {
		t.Fatalf("sseData basic: %q %v", v, ok)
	}
	if v, ok := sseData("data:{\"a\":1}"); !ok || v != "{\"a\":1}" {
		t.Fatalf("sseData no space: %q %v", v, ok)
	}
	if _, ok := sseData(""); ok {
		t.Fatalf("empty line is not a data frame")
	}
	if _, ok := sseData(": comment"); ok {
		t.Fatalf("comment line is not a data frame")
	}
	if _, ok := sseData("event: chunk"); ok {
		t.Fatalf("event line is not a data frame")
	}
}
