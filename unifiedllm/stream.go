package unifiedllm

import (
	"context"
	"strings"
)

// StreamAccumulator collects stream events into a complete Response.
type StreamAccumulator struct {
	text         strings.Builder
	finishReason *FinishReason
	usage        *Usage
	response     *Response
	err          error
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		sa.text.WriteString(event.Delta)
	case StreamFinish:
		sa.finishReason = event.FinishReason
		sa.usage = event.Usage
		sa.response = event.Response
	case StreamError:
		if sa.err == nil {
			sa.err = event.Error
		}
	}
}

// Err returns the first error seen on the stream.
func (sa *StreamAccumulator) Err() error {
	return sa.err
}

// Response returns the accumulated response.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}

	fr := FinishReason{Reason: "stop"}
	if sa.finishReason != nil {
		fr = *sa.finishReason
	}

	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}

	return &Response{
		Message:      AssistantMessage(sa.text.String()),
		FinishReason: fr,
		Usage:        usage,
	}
}

// Collect drains a stream, calling onDelta for every text fragment, and
// returns the accumulated response. Cancellation of ctx stops the drain;
// an expired deadline is reported as a RequestTimeoutError.
func Collect(ctx context.Context, events <-chan StreamEvent, onDelta func(string)) (*Response, error) {
	acc := NewStreamAccumulator()
	for {
		select {
		case <-ctx.Done():
			return nil, ContextError(ctx.Err())
		case event, ok := <-events:
			if !ok {
				if err := acc.Err(); err != nil {
					return nil, err
				}
				return acc.Response(), nil
			}
			acc.Process(event)
			if event.Type == TextDelta && onDelta != nil && event.Delta != "" {
				onDelta(event.Delta)
			}
		}
	}
}

// send delivers ev unless ctx ends first, so a producer never blocks on a
// consumer that has stopped reading.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishStream publishes the closing TextEnd and StreamFinish events for resp.
func finishStream(ctx context.Context, ch chan<- StreamEvent, textID string, resp *Response) {
	if textID != "" && !send(ctx, ch, StreamEvent{Type: TextEnd, TextID: textID}) {
		return
	}
	send(ctx, ch, StreamEvent{
		Type:         StreamFinish,
		FinishReason: &resp.FinishReason,
		Usage:        &resp.Usage,
		Response:     resp,
	})
}

// emitText is shared by adapters that only learn the full text at the end
// of a call: it publishes it as a single delta followed by a finish event.
func emitText(ctx context.Context, ch chan<- StreamEvent, resp *Response) {
	textID := "text_0"
	if !send(ctx, ch, StreamEvent{Type: TextStart, TextID: textID}) {
		return
	}
	if !send(ctx, ch, StreamEvent{Type: TextDelta, Delta: resp.Text(), TextID: textID}) {
		return
	}
	finishStream(ctx, ch, textID, resp)
}
