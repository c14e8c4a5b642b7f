package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"
)

func drainShaped(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestShapeStreamRoundTrip(t *testing.T) {
	tokens := make(chan string)
	cfg := ShaperConfig{PrebufferChars: 5, MinChunkChars: 5, SoftMaxChars: 1000, MaxIdleMs: 500}
	out := ShapeStream(context.Background(), tokens, cfg)

	go func() {
		for _, tok := range []string{"Hello", " there", ". ", "How are you", "?"} {
			tokens <- tok
		}
		close(tokens)
	}()

	chunks := drainShaped(out)
	joined := strings.Join(chunks, "")
	if joined != "Hello there. How are you?" {
		t.Fatalf("round-trip mismatch: got %q", joined)
	}
}

func TestShapeStreamFlushesOnSoftMax(t *testing.T) {
	tokens := make(chan string)
	cfg := ShaperConfig{PrebufferChars: 1, MinChunkChars: 1000, SoftMaxChars: 10, MaxIdleMs: 500}
	out := ShapeStream(context.Background(), tokens, cfg)

	go func() {
		tokens <- "this is a long run-on sentence without punctuation"
		close(tokens)
	}()

	chunks := drainShaped(out)
	if len(chunks) < 2 {
		t.Fatalf("expected soft-max overflow to split into multiple chunks, got %d: %v", len(chunks), chunks)
	}
	if strings.Join(chunks, "") != "this is a long run-on sentence without punctuation" {
		t.Fatalf("chunks must reassemble to the original text, got %q", strings.Join(chunks, ""))
	}
}

func TestShapeStreamStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tokens := make(chan string)
	cfg := ShaperConfig{PrebufferChars: 1, MinChunkChars: 1, SoftMaxChars: 1000, MaxIdleMs: 1000}
	out := ShapeStream(ctx, tokens, cfg)

	// Nobody reads out: the shaper must not wedge on its pending emit once
	// the consumer is gone and the turn is cancelled.
	tokens <- "A full sentence the sink never consumes."
	cancel()

	select {
	case _, open := <-out:
		if open {
			// A chunk raced the cancel; the channel must still close.
			if _, stillOpen := <-out; stillOpen {
				t.Fatalf("expected out to close after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("shaper did not shut down after context cancel")
	}
}

func TestShapeStreamFlushesOnIdle(t *testing.T) {
	tokens := make(chan string)
	cfg := ShaperConfig{PrebufferChars: 1, MinChunkChars: 1000, SoftMaxChars: 1000, MaxIdleMs: 30}
	out := ShapeStream(context.Background(), tokens, cfg)

	done := make(chan struct{})
	go func() {
		tokens <- "partial"
		time.Sleep(80 * time.Millisecond)
		close(tokens)
		close(done)
	}()

	first := <-out
	if first != "partial" {
		t.Fatalf("expected idle flush of buffered text, got %q", first)
	}
	<-done
}
