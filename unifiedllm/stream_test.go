package unifiedllm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStreamAccumulator(t *testing.T) {
	acc := NewStreamAccumulator()

	events := []StreamEvent{
		{Type: StreamStart},
		{Type: TextStart, TextID: "t0"},
		{Type: TextDelta, Delta: "Hello ", TextID: "t0"},
		{Type: TextDelta, Delta: "world", TextID: "t0"},
		{Type: TextEnd, TextID: "t0"},
		{Type: StreamFinish, FinishReason: &FinishReason{Reason: "stop"}, Usage: &Usage{InputTokens: 5, OutputTokens: 10, TotalTokens: 15}},
	}

	for _, e := range events {
		acc.Process(e)
	}

	resp := acc.Response()
	if resp.Text() != "Hello world" {
		t.Errorf("expected accumulated text %q, got %q", "Hello world", resp.Text())
	}
	if resp.FinishReason.Reason != "stop" {
		t.Errorf("expected finish reason %q, got %q", "stop", resp.FinishReason.Reason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total_tokens 15, got %d", resp.Usage.TotalTokens)
	}
}

func TestCollectForwardsDeltas(t *testing.T) {
	ch := make(chan StreamEvent, 8)
	emitText(context.Background(), ch, &Response{Message: AssistantMessage(`{"status":"complete"}`), FinishReason: FinishReason{Reason: "stop"}})
	close(ch)

	var seen strings.Builder
	resp, err := Collect(context.Background(), ch, func(d string) { seen.WriteString(d) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.String() != `{"status":"complete"}` {
		t.Errorf("unexpected deltas %q", seen.String())
	}
	if resp.Text() != `{"status":"complete"}` {
		t.Errorf("unexpected text %q", resp.Text())
	}
}

func TestCollectReturnsStreamError(t *testing.T) {
	ch := make(chan StreamEvent, 4)
	ch <- StreamEvent{Type: StreamStart}
	ch <- StreamEvent{Type: TextDelta, Delta: "partial"}
	ch <- StreamEvent{Type: StreamError, Error: &RateLimitError{ProviderError: ProviderError{Retryable: true}}}
	close(ch)

	_, err := Collect(context.Background(), ch, nil)
	if !IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan StreamEvent)

	_, err := Collect(ctx, ch, nil)
	var ab *AbortError
	if !errors.As(err, &ab) {
		t.Fatalf("expected AbortError, got %T", err)
	}
	if ErrorKind(err) != "aborted" {
		t.Errorf("expected kind aborted, got %q", ErrorKind(err))
	}
}

func TestCollectDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	ch := make(chan StreamEvent)

	_, err := Collect(ctx, ch, nil)
	var te *RequestTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected RequestTimeoutError, got %T", err)
	}
	if ErrorKind(err) != "timeout" {
		t.Errorf("expected kind timeout, got %q", ErrorKind(err))
	}
}

func TestEmitTextStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An unbuffered channel nobody reads would block forever without the
	// context check.
	ch := make(chan StreamEvent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		emitText(ctx, ch, &Response{Message: AssistantMessage("ignored")})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emitText blocked after cancellation")
	}
}
