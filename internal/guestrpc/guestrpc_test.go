package guestrpc

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Method: MethodPing}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("unexpected error writing frame: %v", err)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("unexpected error reading frame: %v", err)
	}
	if got.Method != MethodPing {
		t.Fatalf("expected method %q, got %q", MethodPing, got.Method)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	var got Request
	if err := ReadFrame(&buf, &got); err == nil {
		t.Fatalf("expected an error for an oversized frame length")
	}
}

func TestFrameRoundTripResponseWithOutput(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{OK: true, Output: "line1\nline2\n"}
	if err := WriteFrame(&buf, resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Response
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Output != resp.Output {
		t.Fatalf("expected output %q, got %q", resp.Output, got.Output)
	}
}
