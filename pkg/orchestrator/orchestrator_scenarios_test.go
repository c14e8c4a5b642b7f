package orchestrator

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/hotword"
)

// sineFrame is 20ms of a 1kHz tone at 16kHz: loud enough to clear the
// recorder's RMS gate and the barge-in dBFS threshold, with a
// zero-crossing rate inside the human-voice band.
func sineFrame() []int16 {
	frame := make([]int16, 320)
	for i := range frame {
		frame[i] = int16(8000 * math.Sin(2*math.Pi*float64(i)/16.0))
	}
	return frame
}

func quietFrame() []int16 {
	return make([]int16, 320)
}

// scriptedASR serves one canned transcript per Transcribe call and
// reports each served text on the served channel so tests can pace
// themselves against the session loop.
type scriptedASR struct {
	mu     sync.Mutex
	script []string
	served chan string
}

func (a *scriptedASR) Transcribe(ctx context.Context, audioPath string, langOverride Language) (TranscriptResult, error) {
	a.mu.Lock()
	var text string
	if len(a.script) > 0 {
		text = a.script[0]
		a.script = a.script[1:]
	}
	a.mu.Unlock()
	if a.served != nil {
		a.served <- text
	}
	return TranscriptResult{Text: text, Lang: LanguageEn}, nil
}

func (a *scriptedASR) Name() string { return "scripted-asr" }

type countingLLM struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (l *countingLLM) GenerateStream(ctx context.Context, userText string, langHint Language, mode GenerationMode, history []Message) (<-chan string, <-chan error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()

	tokens := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errCh)
		for _, tok := range strings.SplitAfter(l.reply, " ") {
			select {
			case tokens <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return tokens, errCh
}

func (l *countingLLM) Name() string { return "counting-llm" }

func (l *countingLLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// sinkTTS consumes chunks instantly and records them.
type sinkTTS struct {
	mu      sync.Mutex
	spoken  []string
	stopped bool
}

func (s *sinkTTS) Say(ctx context.Context, text string, lang Language) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *sinkTTS) SayAsyncStream(ctx context.Context, chunks <-chan string, lang Language, onFirstSpeak func(), onAudio func([]byte) error) error {
	first := true
	for {
		select {
		case chunk, open := <-chunks:
			if !open {
				return nil
			}
			if first {
				if onFirstSpeak != nil {
					onFirstSpeak()
				}
				first = false
			}
			s.mu.Lock()
			s.spoken = append(s.spoken, chunk)
			s.mu.Unlock()
			if onAudio != nil {
				if err := onAudio(make([]byte, 64)); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *sinkTTS) IsSpeaking() bool { return false }
func (s *sinkTTS) Name() string     { return "sink-tts" }

func (s *sinkTTS) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *sinkTTS) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *sinkTTS) Spoken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.spoken, "")
}

func waitServed(t *testing.T, served <-chan string, want string) {
	t.Helper()
	select {
	case got := <-served:
		if got != want {
			t.Fatalf("ASR served %q, want %q", got, want)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for ASR to serve %q", want)
	}
}

func TestStandbyWakeViaASRFallback(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	asr := &scriptedASR{script: []string{"hello robot"}}
	o := New(cfg, asr, nil, nil, nil, nil, nil, nil)

	mic := make(chan []int16, 64)
	for i := 0; i < 45; i++ {
		mic <- sineFrame()
	}
	close(mic)

	phrase, err := o.standbyLoop(context.Background(), mic)
	if err != nil {
		t.Fatalf("standbyLoop failed: %v", err)
	}
	if phrase.Phrase != "hello robot" || phrase.Lang != "en" {
		t.Fatalf("unexpected wake phrase: %+v", phrase)
	}
}

// TestSessionTurnEchoAndGoodbye walks one session through a normal turn,
// an echoed transcript of the bot's own reply (which must be discarded
// without reaching the LLM), and a goodbye that ends the session.
func TestSessionTurnEchoAndGoodbye(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Audio.SessionIdleSeconds = 30

	reply := "It is exactly twelve o'clock right now."
	asr := &scriptedASR{
		script: []string{"what time is it", reply, "goodbye robot"},
		served: make(chan string, 8),
	}
	llm := &countingLLM{reply: reply}
	tts := &sinkTTS{}
	o := New(cfg, asr, llm, tts, nil, nil, nil, nil)

	var endReason interface{}
	o.OnEvent(func(ev OrchestratorEvent) {
		if ev.Type == EventSessionEnded {
			endReason = ev.Data
		}
	})

	mic := make(chan []int16, 256)
	done := make(chan struct{})
	defer close(done)

	// Continuous silence keeps the recorder's endpointing clock moving
	// between utterances.
	go func() {
		for {
			select {
			case <-done:
				return
			case mic <- quietFrame():
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	inject := func() {
		for i := 0; i < 40; i++ {
			mic <- sineFrame()
		}
	}

	result := make(chan error, 1)
	go func() {
		result <- o.runSession(context.Background(), mic, config.WakePhrase{Phrase: "hello robot", Lang: "en"})
	}()

	inject()
	waitServed(t, asr.served, "what time is it")
	time.Sleep(150 * time.Millisecond)

	inject()
	waitServed(t, asr.served, reply)
	time.Sleep(150 * time.Millisecond)

	inject()
	waitServed(t, asr.served, "goodbye robot")

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("runSession failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("session did not end on goodbye")
	}

	if got := llm.Calls(); got != 1 {
		t.Fatalf("LLM called %d times, want exactly 1 (the echo must not reach it)", got)
	}
	o.mu.Lock()
	lastReply := o.lastBotReply
	o.mu.Unlock()
	if lastReply != reply {
		t.Fatalf("last_bot_reply = %q, want %q", lastReply, reply)
	}
	if spoken := tts.Spoken(); !strings.Contains(spoken, reply) {
		t.Fatalf("TTS never received the reply; spoke %q", spoken)
	}
	if endReason != "goodbye" {
		t.Fatalf("session end reason = %v, want goodbye", endReason)
	}
	if o.State() != StateStandby {
		t.Fatalf("expected return to STANDBY, got %v", o.State())
	}
}

func TestBargeInStopsSpeaking(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Audio.BargeArmAfterMs = 0
	tts := &sinkTTS{}
	o := New(cfg, &scriptedASR{}, nil, tts, nil, nil, nil, nil)
	o.bargeIn.Arm()

	mic := make(chan []int16, 128)
	for i := 0; i < 100; i++ {
		mic <- sineFrame()
	}

	ttsErr := make(chan error) // playback "still running": never fires
	start := time.Now()
	reason := o.waitForSpeakingDone(mic, ttsErr)
	if reason != "barge_in" {
		t.Fatalf("expected barge_in, got %q", reason)
	}
	if !tts.Stopped() {
		t.Fatalf("TTS was not stopped on barge-in")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("barge-in took too long: %v", elapsed)
	}
}

// hitDetector reports keyword 0 on every frame.
type hitDetector struct{}

func (hitDetector) SampleRate() int                  { return 16000 }
func (hitDetector) FrameLength() int                 { return 320 }
func (hitDetector) Keywords() []string               { return []string{"stop"} }
func (hitDetector) Name() string                     { return "hit" }
func (hitDetector) Process(frame []int16) (int, error) { return 0, nil }

func TestStopHotwordExitModeEndsSession(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Audio.BargeArmAfterMs = 0
	// Keep the continuous-voice trigger from winning the race: the voiced
	// frames exist to corroborate the hotword hit, not to barge.
	cfg.Audio.BargeMinVoiceMs = 1 << 20
	cfg.StopHotword.Enabled = true
	cfg.StopHotword.Mode = "exit"
	cfg.StopHotword.Label = "stop"

	stopWatcher := hotword.NewWatcher(hitDetector{}, nil, nil)
	tts := &sinkTTS{}
	o := New(cfg, &scriptedASR{}, nil, tts, nil, stopWatcher, nil, nil)
	o.bargeIn.Arm()

	mic := make(chan []int16, 128)
	for i := 0; i < 100; i++ {
		mic <- sineFrame()
	}

	ttsErr := make(chan error)
	reason := o.waitForSpeakingDone(mic, ttsErr)
	if !strings.HasPrefix(reason, "stop_hotword:") {
		t.Fatalf("expected stop_hotword reason, got %q", reason)
	}
	if !tts.Stopped() {
		t.Fatalf("TTS was not stopped on stop hotword")
	}
	if pending, _ := o.fastExit.Pending(); !pending {
		t.Fatalf("fast-exit must be pending after a stop hotword in exit mode")
	}
	if !o.fastExit.IsSessionEnding() {
		t.Fatalf("stop hotword in exit mode must end the session")
	}
}

// listenableASR exposes the streaming-partial listener fan-out.
type listenableASR struct {
	scriptedASR
	listeners []TranscriptListener
}

func (a *listenableASR) AddListener(l TranscriptListener) {
	a.listeners = append(a.listeners, l)
}

func TestStreamingPartialRoutesIntoFastExit(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	asr := &listenableASR{}
	o := New(cfg, asr, nil, nil, nil, nil, nil, nil)

	if len(asr.listeners) != 1 {
		t.Fatalf("expected the orchestrator to register one transcript listener, got %d", len(asr.listeners))
	}

	asr.listeners[0]("some ordinary partial", false)
	if pending, _ := o.fastExit.Pending(); pending {
		t.Fatalf("ordinary partial must not set fast-exit")
	}

	asr.listeners[0]("goodbye robot", false)
	if pending, reason := o.fastExit.Pending(); !pending || reason != "goodbye" {
		t.Fatalf("stop-phrase partial must set fast-exit, got pending=%v reason=%q", pending, reason)
	}
}

func TestSessionIdleTimeoutReturnsToStandby(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Audio.SessionIdleSeconds = 1
	tts := &sinkTTS{}
	o := New(cfg, &scriptedASR{}, &countingLLM{}, tts, nil, nil, nil, nil)

	var endReason interface{}
	o.OnEvent(func(ev OrchestratorEvent) {
		if ev.Type == EventSessionEnded {
			endReason = ev.Data
		}
	})

	mic := make(chan []int16)
	close(mic)

	start := time.Now()
	if err := o.runSession(context.Background(), mic, config.WakePhrase{Lang: "en"}); err != nil {
		t.Fatalf("runSession failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("session ended before the idle window elapsed: %v", elapsed)
	}
	if endReason != "idle_timeout" {
		t.Fatalf("session end reason = %v, want idle_timeout", endReason)
	}
	if o.State() != StateStandby {
		t.Fatalf("expected return to STANDBY, got %v", o.State())
	}
}
