package transport_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/alfred-ai/signalhub/internal/transport"
)

func TestStdioReadSplitsLines(t *testing.T) {
	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n{\"jsonrpc\":\"2.0\",\"method\":\"tools/list\"}\n")
	s := transport.NewStdio(in, &bytes.Buffer{})

	line1, err := s.Read()
	if err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if !strings.Contains(string(line1), "ping") {
		t.Fatalf("unexpected first line: %s", line1)
	}

	line2, err := s.Read()
	if err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if !strings.Contains(string(line2), "tools/list") {
		t.Fatalf("unexpected second line: %s", line2)
	}

	if _, err := s.Read(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of input, got %v", err)
	}
}

func TestStdioWriteResponseAppendsNewline(t *testing.T) {
	var out bytes.Buffer
	s := transport.NewStdio(strings.NewReader(""), &out)

	if err := s.WriteResponse(transport.NewSuccessResponse(1, map[string]string{"ok": "true"})); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("expected trailing newline, got %q", out.String())
	}
	if !strings.Contains(out.String(), `"ok":"true"`) {
		t.Fatalf("expected serialized result in output, got %q", out.String())
	}
}
