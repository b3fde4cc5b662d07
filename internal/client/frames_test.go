package client

import "testing"

func TestParseFrameDelta(t *testing.T) {
	frame := ParseFrame(`{"choices":[{"delta":{"content":"Hel"}}]}`)
	if frame.Kind != FrameData {
		t.Fatalf("expected data frame, got %v", frame.Kind)
	}
	if frame.Delta != "Hel" {
		t.Fatalf("unexpected delta: %q", frame.Delta)
	}
}

func TestParseFrameMessageFallback(t *testing.T) {
	frame := ParseFrame(`{"choices":[{"message":{"content":"你好"}}]}`)
	if frame.Kind != FrameData || frame.Delta != "你好" {
		t.Fatalf("expected message-content fallback, got kind=%v delta=%q", frame.Kind, frame.Delta)
	}
}

func TestParseFrameDone(t *testing.T) {
	for _, payload := range []string{"[DONE]", "  [DONE]  "} {
		frame := ParseFrame(payload)
		if frame.Kind != FrameDone {
			t.Fatalf("payload %q: expected done frame, got %v", payload, frame.Kind)
		}
		if frame.Delta != "" {
			t.Fatalf("done frame must never carry data, got %q", frame.Delta)
		}
	}
}

func TestParseFrameMalformed(t *testing.T) {
	for _, payload := range []string{"not json", "{truncated", `"just a string"`} {
		frame := ParseFrame(payload)
		if frame.Kind != FrameMalformed {
			t.Fatalf("payload %q: expected malformed frame, got %v", payload, frame.Kind)
		}
	}
}

func TestParseFrameEmptyChoices(t *testing.T) {
	frame := ParseFrame(`{"choices":[]}`)
	if frame.Kind != FrameData || frame.Delta != "" {
		t.Fatalf("expected empty data frame, got kind=%v delta=%q", frame.Kind, frame.Delta)
	}
}
