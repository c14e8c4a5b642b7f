package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// LokutorTTS streams synthesis requests over a single persistent
// websocket connection, one request per shaped chunk, reusing the
// connection across chunks within a turn.
type LokutorTTS struct {
	apiKey string
	host   string
	scheme string
	voice  orchestrator.Voice

	mu       sync.Mutex
	conn     *websocket.Conn
	speaking bool
	stopCh   chan struct{}
}

func NewLokutorTTS(apiKey string, voice orchestrator.Voice) *LokutorTTS {
	if voice == "" {
		voice = orchestrator.VoiceF1
	}
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
		voice:  voice,
	}
}

func (t *LokutorTTS) Name() string {
	return "lokutor-tts"
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	t.conn = conn
	return conn, nil
}

// Say synthesizes a single utterance and blocks until playback of every
// chunk has been handed to the caller via a local sink, i.e. it is
// SayAsyncStream fed by a pre-closed one-shot channel.
func (t *LokutorTTS) Say(ctx context.Context, text string, lang orchestrator.Language) error {
	chunks := make(chan string, 1)
	chunks <- text
	close(chunks)
	return t.SayAsyncStream(ctx, chunks, lang, nil, func([]byte) error { return nil })
}

// SayAsyncStream opens (or reuses) the websocket connection and issues
// one synthesis request per chunk it reads off chunks, forwarding every
// binary frame through onAudio. onFirstSpeak fires exactly once, right
// before the first audio byte of the turn is delivered. Stop() closing
// stopCh aborts mid-turn and returns nil rather than an error, since
// that is a caller-triggered interruption (barge-in), not a failure.
func (t *LokutorTTS) SayAsyncStream(ctx context.Context, chunks <-chan string, lang orchestrator.Language, onFirstSpeak func(), onAudio func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.stopCh != nil {
		close(t.stopCh)
	}
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.speaking = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.speaking = false
		t.mu.Unlock()
	}()

	firstSpoken := false

	for {
		var text string
		var ok bool
		select {
		case text, ok = <-chunks:
			if !ok {
				return nil
			}
		case <-stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		if text == "" {
			continue
		}

		if err := t.sendChunk(ctx, conn, text, lang); err != nil {
			return err
		}

		for {
			messageType, payload, err := conn.Read(ctx)
			if err != nil {
				t.invalidateConn()
				return fmt.Errorf("failed to read from lokutor: %w", err)
			}

			switch messageType {
			case websocket.MessageBinary:
				if !firstSpoken && onFirstSpeak != nil {
					onFirstSpeak()
					firstSpoken = true
				}
				if err := onAudio(payload); err != nil {
					return err
				}
			case websocket.MessageText:
				msg := string(payload)
				if msg == "EOS" {
					goto nextChunk
				}
				if len(msg) >= 4 && msg[:4] == "ERR:" {
					return fmt.Errorf("lokutor error: %s", msg)
				}
			}

			select {
			case <-stopCh:
				return nil
			default:
			}
		}
	nextChunk:
	}
}

func (t *LokutorTTS) sendChunk(ctx context.Context, conn *websocket.Conn, text string, lang orchestrator.Language) error {
	req := map[string]interface{}{
		"text":    text,
		"voice":   string(t.voice),
		"lang":    string(lang),
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.invalidateConn()
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}
	return nil
}

func (t *LokutorTTS) invalidateConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close(websocket.StatusAbnormalClosure, "lokutor stream error")
		t.conn = nil
	}
}

func (t *LokutorTTS) IsSpeaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaking
}

// Stop interrupts any in-flight SayAsyncStream call. It is idempotent:
// calling it with nothing playing is a no-op.
func (t *LokutorTTS) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil && t.speaking {
		close(t.stopCh)
		t.stopCh = nil
	}
	return nil
}

func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
