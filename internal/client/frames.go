package client

import (
	"encoding/json"
	"strings"
)

// FrameKind tags one parsed unit of the reply event-stream.
type FrameKind int

const (
	// FrameData carries an incremental text delta (possibly empty when
	// the payload is well formed but has no content, e.g. role-only or
	// finish chunks).
	FrameData FrameKind = iota
	// FrameDone is the "[DONE]" terminator sentinel.
	FrameDone
	// FrameMalformed is a payload that failed to parse. Malformed frames
	// never abort the stream.
	FrameMalformed
)

// Frame is one discrete unit of the streamed reply.
type Frame struct {
	Kind  FrameKind
	Delta string
}

const doneSentinel = "[DONE]"

// ParseFrame resolves the payload of a single data field into a tagged
// frame. The delta is taken from the first choice's delta content, with
// message content as fallback for providers that send whole messages.
func ParseFrame(payload string) Frame {
	payload = strings.TrimSpace(payload)
	if payload == doneSentinel {
		return Frame{Kind: FrameDone}
	}

	var parsed struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return Frame{Kind: FrameMalformed}
	}

	if len(parsed.Choices) == 0 {
		return Frame{Kind: FrameData}
	}

	delta := parsed.Choices[0].Delta.Content
	if delta == "" {
		delta = parsed.Choices[0].Message.Content
	}
	return Frame{Kind: FrameData, Delta: delta}
}
