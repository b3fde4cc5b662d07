package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// Callbacks receive the discrete events of one stream connection.
// A cancelled stream reports through neither OnClose nor OnError.
type Callbacks struct {
	OnOpen    func(resp *http.Response)
	OnMessage func(frame Frame)
	OnClose   func()
	OnError   func(err error)
}

// StreamRequest describes the connection to open.
type StreamRequest struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// StreamOpener opens an event-stream connection and delivers events
// through callbacks until the stream terminates.
type StreamOpener interface {
	Open(ctx context.Context, req StreamRequest, cb Callbacks)
}

// Transport is the HTTP event-stream adapter. It never retries: any
// terminal error is reported once and retry policy belongs to the
// caller.
type Transport struct {
	client *http.Client
}

// NewTransport creates the adapter. The underlying client carries no
// timeout; stream lifetime is governed by the caller's context.
func NewTransport() *Transport {
	return &Transport{client: &http.Client{}}
}

// Open connects and pumps frames until the stream closes, errors or the
// context is cancelled. It blocks for the lifetime of the stream.
func (t *Transport) Open(ctx context.Context, req StreamRequest, cb Callbacks) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		t.fail(ctx, cb, fmt.Errorf("build stream request: %w", err))
		return
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.fail(ctx, cb, fmt.Errorf("open stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if cb.OnOpen != nil {
		cb.OnOpen(resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		t.fail(ctx, cb, fmt.Errorf("stream open failed: %d %s: %s",
			resp.StatusCode, resp.Status, strings.TrimSpace(string(detail))))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		frame := ParseFrame(payload)
		switch frame.Kind {
		case FrameDone:
			// terminator sentinel, never forwarded as data
		case FrameMalformed:
			log.Printf("[transport] dropping malformed frame: %.120s", payload)
		case FrameData:
			if frame.Delta != "" && cb.OnMessage != nil {
				cb.OnMessage(frame)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		t.fail(ctx, cb, fmt.Errorf("read stream: %w", err))
		return
	}
	if ctx.Err() != nil {
		return
	}
	if cb.OnClose != nil {
		cb.OnClose()
	}
}

// fail reports a terminal error unless the stream was cancelled.
func (t *Transport) fail(ctx context.Context, cb Callbacks, err error) {
	if ctx.Err() != nil {
		return
	}
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
