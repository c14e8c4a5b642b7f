package orchestrator

import (
	"context"
	"strings"
	"time"
)

// ShaperConfig carries the tts.{prebuffer_chars,min_chunk_chars,
// soft_max_chars,max_idle_ms} configuration keys.
type ShaperConfig struct {
	PrebufferChars int
	MinChunkChars  int
	SoftMaxChars   int
	MaxIdleMs      int
}

var sentenceTerminators = []rune{'.', '!', '?', '\n'}

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)
	last := r[len(r)-1]
	for _, t := range sentenceTerminators {
		if last == t {
			return true
		}
	}
	return false
}

// ShapeStream wraps a raw token channel into sentence-shaped chunks:
// it buffers until PrebufferChars before the first emission, then
// flushes on a sentence terminator once MinChunkChars is met, on
// SoftMaxChars overflow (broken at the nearest space), or after
// MaxIdleMs of silence from the source. The final chunk is flushed when
// tokens closes. Pure in input -> output: no I/O, the returned channel is
// closed when tokens closes or ctx is done. Cancelling ctx also unblocks
// a pending emit whose consumer has gone away (the TTS sink stopped
// reading after a barge-in), propagating cancellation upstream through
// the channel chain.
func ShapeStream(ctx context.Context, tokens <-chan string, cfg ShaperConfig) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		var pending strings.Builder
		prebuffered := false
		idle := time.NewTimer(idleDuration(cfg.MaxIdleMs))
		defer idle.Stop()

		emit := func(chunk string) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		flush := func() bool {
			if pending.Len() == 0 {
				return true
			}
			chunk := pending.String()
			pending.Reset()
			return emit(chunk)
		}

		// flushSoftMax breaks the pending buffer at the nearest preceding
		// space once it exceeds SoftMaxChars, leaving the remainder in
		// pending for the next round. The break space stays with the
		// emitted chunk so concatenating all chunks reproduces the input
		// exactly.
		flushSoftMax := func() bool {
			text := pending.String()
			if len(text) <= cfg.SoftMaxChars {
				return true
			}
			cut := strings.LastIndex(text[:cfg.SoftMaxChars], " ")
			if cut <= 0 {
				cut = cfg.SoftMaxChars
			} else {
				cut++
			}
			pending.Reset()
			pending.WriteString(text[cut:])
			return emit(text[:cut])
		}

		for {
			select {
			case tok, open := <-tokens:
				if !open {
					flush()
					return
				}
				if tok == "" {
					continue
				}
				pending.WriteString(tok)
				resetTimer(idle, idleDuration(cfg.MaxIdleMs))

				if !prebuffered {
					if pending.Len() >= cfg.PrebufferChars {
						prebuffered = true
					} else {
						continue
					}
				}

				if pending.Len() >= cfg.SoftMaxChars {
					if !flushSoftMax() {
						return
					}
					continue
				}

				if endsSentence(pending.String()) && pending.Len() >= cfg.MinChunkChars {
					if !flush() {
						return
					}
				}

			case <-idle.C:
				if !flush() {
					return
				}
				resetTimer(idle, idleDuration(cfg.MaxIdleMs))

			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func idleDuration(ms int) time.Duration {
	if ms <= 0 {
		return time.Hour
	}
	return time.Duration(ms) * time.Millisecond
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
