package backend

import (
	"bytes"
	"io"
	"strings"
)

// frameScanner splits a streaming response body into newline-delimited
// frames. A trailing partial line is buffered across reads, not dropped: it
// is returned as the final frame when the body ends.
type frameScanner struct {
	r    io.Reader
	buf  []byte
	read []byte
	eof  bool
}

func newFrameScanner(r io.Reader) *frameScanner {
	return &frameScanner{r: r, read: make([]byte, 32*1024)}
}

// Next returns the next complete line without its newline. io.EOF signals the
// end of the stream; any buffered partial line is yielded first.
func (s *frameScanner) Next() (string, error) {
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := strings.TrimRight(string(s.buf[:i]), "\r")
			s.buf = s.buf[i+1:]
			return line, nil
		}
		if s.eof {
			if len(s.buf) > 0 {
				line := string(s.buf)
				s.buf = nil
				return line, nil
			}
			return "", io.EOF
		}

		n, err := s.r.Read(s.read)
		if n > 0 {
			s.buf = append(s.buf, s.read[:n]...)
		}
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return "", err
		}
	}
}

// sseData extracts the payload of a "data: "-prefixed SSE line. Empty lines
// and comment/other fields are skipped by returning ok=false.
func sseData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
