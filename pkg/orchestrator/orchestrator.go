// Package orchestrator implements the interactive dialogue loop: the
// top-level state machine and concurrency fabric wiring the voice
// probe, barge-in listener, hotword watchers, utterance recorder,
// stream shaper, and fast-exit arbiter around the external ASR/LLM/TTS
// collaborators.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/config"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/fuzzy"
	"github.com/lokutor-ai/lokutor-orchestrator/internal/metrics"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/hotword"
)

// Orchestrator drives the standby<->session state machine. One instance
// per process; it owns the lifetime of the session-scoped collaborators
// (barge-in listener, fast-exit arbiter, conversation history).
type Orchestrator struct {
	cfg config.Config

	asr ASRProvider
	llm LLMProvider
	tts TTSProvider

	wakeWatcher *hotword.Watcher
	stopWatcher *hotword.Watcher

	recorder *Recorder
	bargeIn  *BargeInListener
	fastExit *FastExitArbiter
	echo     *EchoSuppressor
	history  *History
	playback PlaybackSink

	logger Logger

	mu               sync.Mutex
	state            SessionState
	lastBotReply     string
	lastActivity     time.Time
	debugDir         string
	pendingStopFrame []int16

	onEvent func(OrchestratorEvent)
}

// New builds an Orchestrator. wakeWatcher/stopWatcher may be nil:
// absent prerequisites mean ASR-only wake detection and no stop-hotword
// support, respectively.
func New(cfg config.Config, asr ASRProvider, llm LLMProvider, tts TTSProvider, wakeWatcher, stopWatcher *hotword.Watcher, playback PlaybackSink, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	probe := NewVoiceProbe(cfg.Audio.SampleRate)
	bargeCfg := BargeInConfig{
		BlockMs:      cfg.Audio.BlockMs,
		MinVoiceMs:   cfg.Audio.BargeMinVoiceMs,
		DebounceMs:   cfg.Audio.BargeDebounceMs,
		CooldownMs:   cfg.Audio.BargeCooldownMs,
		ArmAfterMs:   cfg.Audio.BargeArmAfterMs,
		VoiceDropMs:  cfg.Audio.BargeVoiceDropMs,
		VoiceHoldMs:  cfg.Audio.BargeVoiceHoldMs,
		LeakMarginDb: cfg.Audio.BargeLeakMarginDb,
		LeakDecayMs:  cfg.Audio.BargeLeakDecayMs,
		MinRMSDbfs:   cfg.Audio.BargeMinRMSDbfs,
		HighpassHz:   cfg.Audio.BargeHighpassHz,
		ZCRMin:       cfg.Audio.BargeZCRMin,
		ZCRMax:       cfg.Audio.BargeZCRMax,
		RequireCobra: cfg.Audio.BargeRequireCobra,
		CobraRelaxDb: cfg.Audio.BargeCobraRelaxDb,
	}

	stopPhrases := []string{"goodbye robot", "that's all", "stop talking", "never mind"}

	maxHistoryTurns := cfg.LLM.MaxHistoryTurns
	if !cfg.LLM.HistoryEnabled {
		maxHistoryTurns = 0
	}

	o := &Orchestrator{
		cfg:         cfg,
		asr:         asr,
		llm:         llm,
		tts:         tts,
		wakeWatcher: wakeWatcher,
		stopWatcher: stopWatcher,
		recorder:    NewRecorder(cfg.Audio.SampleRate, cfg.Audio.VADAggressiveness, logger),
		bargeIn:     NewBargeInListener(bargeCfg, probe, nil, logger),
		fastExit:    NewFastExitArbiter(stopPhrases, 80),
		echo:        NewEchoSuppressor(cfg.Audio.SampleRate, cfg.Audio.BargeLeakDecayMs),
		history:     NewHistory(maxHistoryTurns),
		playback:    playback,
		logger:      logger,
		state:       StateStandby,
	}

	// ASR providers that stream partials get the Fast-Exit Arbiter
	// registered into their listener fan-out, so a stop phrase heard
	// mid-recording sets pending before the final transcript lands. The
	// registration adds a listener, it never displaces ones the caller
	// installed.
	if listenable, ok := asr.(ListenableASRProvider); ok {
		listenable.AddListener(func(transcript string, isFinal bool) {
			o.mu.Lock()
			lastReply := o.lastBotReply
			o.mu.Unlock()
			if o.fastExit.CheckTranscript(transcript, lastReply) {
				o.logger.Info("fast-exit set from streaming transcript", "final", isFinal)
			}
		})
	}
	return o
}

// OnEvent registers a sink for OrchestratorEvent notifications, used by
// a UI or CLI meter; nil disables emission.
func (o *Orchestrator) OnEvent(fn func(OrchestratorEvent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = fn
}

func (o *Orchestrator) emit(evType EventType, sessionID string, data interface{}) {
	o.mu.Lock()
	fn := o.onEvent
	o.mu.Unlock()
	if fn != nil {
		fn(OrchestratorEvent{Type: evType, SessionID: sessionID, Data: data})
	}
}

func (o *Orchestrator) setState(s SessionState) {
	o.mu.Lock()
	from := o.state
	o.state = s
	o.mu.Unlock()
	metrics.StateTransitions.WithLabelValues(string(from), string(s)).Inc()
}

func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run drives the standby <-> session loop until ctx is cancelled.
// micFrames is the single shared microphone source; the input device is
// owned by exactly one logical capture component at a time, enforced
// here by scope (only one stage reads micFrames at once, except during
// speaking where a single drain fans frames out to both the barge-in
// listener and the stop-hotword watcher).
func (o *Orchestrator) Run(ctx context.Context, micFrames <-chan []int16) error {
	if o.cfg.LLM.WarmupEnabled {
		if warm, ok := o.llm.(WarmupCapable); ok {
			if err := warm.Warmup(ctx); err != nil {
				o.logger.Warn("llm warmup failed, continuing without it", "error", err)
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		phrase, err := o.standbyLoop(ctx, micFrames)
		if err != nil {
			return err
		}

		if err := o.runSession(ctx, micFrames, phrase); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			o.logger.Error("session ended with error", "error", err)
		}
	}
}

// standbyLoop blocks until a wake trigger: either a hotword event or an
// ASR-matched wake phrase, fuzzy matched against the configured list
// with language taken from the matched phrase.
func (o *Orchestrator) standbyLoop(ctx context.Context, micFrames <-chan []int16) (config.WakePhrase, error) {
	o.setState(StateStandby)

	useHotword := o.wakeWatcher != nil && !o.wakeWatcher.CircuitOpen() && o.cfg.Wake.Engine != "asr"

	if useHotword {
		keywords := o.wakeWatcher.Keywords()
	hotwordLoop:
		for {
			select {
			case <-ctx.Done():
				return config.WakePhrase{}, ctx.Err()
			case frame, open := <-micFrames:
				if !open {
					return config.WakePhrase{}, fmt.Errorf("microphone stream closed")
				}
				idx, err := o.wakeWatcher.Process(frame)
				if err != nil {
					metrics.HotwordFailures.WithLabelValues("wake").Inc()
				}
				if o.wakeWatcher.CircuitOpen() {
					o.logger.Warn("wake hotword circuit open, falling back to ASR wake matching")
					break hotwordLoop
				}
				if idx >= 0 {
					phrase := o.wakePhraseForKeyword(keywords, idx)
					metrics.WakeTriggers.Inc()
					return phrase, nil
				}
			}
		}
	}

	// ASR-based fallback wake matching: record short standby windows and
	// fuzzy-match the transcript.
	standbyProfile := RecorderProfile{SilenceMsToEnd: 1000, MaxRecordSeconds: 4, MinValidSeconds: 0.7}
	standbyPath := filepath.Join(o.cfg.DataDir, "cache", "standby.wav")

	phraseTexts := make([]string, len(o.cfg.Wake.Phrases))
	for i, p := range o.cfg.Wake.Phrases {
		phraseTexts[i] = p.Phrase
	}

	for {
		if ctx.Err() != nil {
			return config.WakePhrase{}, ctx.Err()
		}

		utt, err := o.recorder.Record(ctx, micFrames, standbyProfile, standbyPath)
		if errors.Is(err, ErrUtteranceTooShort) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return config.WakePhrase{}, ctx.Err()
			}
			metrics.ErrorsTotal.WithLabelValues("capture").Inc()
			continue
		}

		result, err := o.asr.Transcribe(ctx, utt.Path, "")
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("asr").Inc()
			continue
		}

		matched, ok := fuzzy.MatchesAny(result.Text, phraseTexts, 80)
		if !ok {
			continue
		}

		phrase := o.wakePhraseForText(matched)
		metrics.WakeTriggers.Inc()
		return phrase, nil
	}
}

func (o *Orchestrator) wakePhraseForKeyword(keywords []string, idx int) config.WakePhrase {
	if idx >= 0 && idx < len(keywords) {
		label := keywords[idx]
		for _, p := range o.cfg.Wake.Phrases {
			if strings.EqualFold(p.Phrase, label) {
				return p
			}
		}
	}
	if idx >= 0 && idx < len(o.cfg.Wake.Phrases) {
		return o.cfg.Wake.Phrases[idx]
	}
	return o.defaultWakePhrase()
}

func (o *Orchestrator) wakePhraseForText(text string) config.WakePhrase {
	for _, p := range o.cfg.Wake.Phrases {
		if strings.EqualFold(p.Phrase, text) {
			return p
		}
	}
	return o.defaultWakePhrase()
}

// defaultWakePhrase is the no-match fallback: every phrase carries an
// explicit Lang tag in config, and a phrase with no match at all falls
// back to DefaultLang rather than guessing from its text.
func (o *Orchestrator) defaultWakePhrase() config.WakePhrase {
	return config.WakePhrase{Phrase: "", Lang: o.cfg.Wake.DefaultLang}
}

func (o *Orchestrator) wakeLanguage(p config.WakePhrase) Language {
	lang := p.Lang
	if lang == "" {
		lang = o.cfg.Wake.DefaultLang
	}
	if lang == string(LanguageRo) {
		return LanguageRo
	}
	return LanguageEn
}

func (o *Orchestrator) acknowledgement(lang Language) string {
	if lang == LanguageRo {
		return o.cfg.Wake.AcknowledgeRo
	}
	return o.cfg.Wake.AcknowledgeEn
}

// runSession runs until idle timeout or a break condition, recording/
// transcribing/generating/speaking one turn at a time.
func (o *Orchestrator) runSession(ctx context.Context, micFrames <-chan []int16, wakePhrase config.WakePhrase) error {
	lang := o.wakeLanguage(wakePhrase)
	sessionID := time.Now().UTC().Format("20060102_150405") + "-" + uuid.NewString()[:8]

	o.fastExit.Reset()
	o.history.Reset()
	o.bargeIn.Arm()
	o.echo.ClearEchoBuffer()

	o.mu.Lock()
	o.lastBotReply = ""
	o.lastActivity = time.Now()
	o.debugDir = filepath.Join(o.cfg.DataDir, "debug", sessionID)
	o.mu.Unlock()
	_ = os.MkdirAll(o.debugDir, 0o755)

	metrics.SessionsStarted.Inc()
	o.emit(EventWake, sessionID, wakePhrase.Phrase)

	if ack := o.acknowledgement(lang); ack != "" {
		ackCh := make(chan string, 1)
		ackCh <- ack
		close(ackCh)
		if err := o.tts.SayAsyncStream(ctx, ackCh, lang, nil, o.playChunk); err != nil {
			o.logger.Warn("failed to speak wake acknowledgement", "error", err)
		}
	}

	sessionIdle := time.Duration(o.cfg.Audio.SessionIdleSeconds) * time.Second
	endReason := ""

sessionLoop:
	for {
		o.mu.Lock()
		idleFor := time.Since(o.lastActivity)
		o.mu.Unlock()
		if idleFor > sessionIdle {
			endReason = "idle_timeout"
			break sessionLoop
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Checked before scheduling the next capture: a session-ending
		// fast-exit raised between turns (streaming partial, external
		// signal) ends the session without another record cycle.
		if pending, reason := o.fastExit.Pending(); pending && o.fastExit.IsSessionEnding() {
			endReason = reason
			break sessionLoop
		}

		turnEnded, reason, err := o.runTurn(ctx, micFrames, lang, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrUtteranceTooShort) {
				continue sessionLoop
			}
			metrics.ErrorsTotal.WithLabelValues("turn").Inc()
			continue sessionLoop
		}
		if turnEnded {
			endReason = reason
			break sessionLoop
		}
	}

	if o.stopWatcher != nil && o.cfg.StopHotword.Enabled {
		o.logger.Debug("stop-hotword watcher torn down for session end")
	}

	metrics.SessionsEnded.Inc()
	o.emit(EventSessionEnded, sessionID, endReason)
	o.setState(StateStandby)
	return nil
}

// runTurn executes one record -> transcribe -> generate -> speak
// iteration. Returns (sessionShouldEnd, reason, error).
func (o *Orchestrator) runTurn(ctx context.Context, micFrames <-chan []int16, lang Language, sessionID string) (bool, string, error) {
	o.setState(StateListening)

	inSessionProfile := RecorderProfile{
		SilenceMsToEnd:   config.InSessionSilenceMs(),
		MaxRecordSeconds: float64(config.InSessionMaxRecordSeconds()),
		MinValidSeconds:  config.InSessionMinValidSeconds(),
	}
	uttPath := filepath.Join(o.cfg.DataDir, "cache", "user_utt.wav")

	utt, err := o.recorder.Record(ctx, micFrames, inSessionProfile, uttPath)
	if err != nil {
		return false, "", err
	}
	turnStart := time.Now()

	// Step 2: transcribe, restricted to ro/en.
	result, err := o.asr.Transcribe(ctx, utt.Path, lang)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("asr").Inc()
		return false, "", nil
	}
	transcript := strings.TrimSpace(result.Text)
	if transcript == "" {
		return false, "", nil
	}
	o.writeDebug("transcript.txt", transcript)

	o.mu.Lock()
	lastBotReply := o.lastBotReply
	o.mu.Unlock()

	// Step 3: anti-echo guard. A transcript that is just the bot's own TTS
	// bleeding back through the mic is dropped outright: no reply, no
	// last_activity update.
	if fuzzy.IsEcho(transcript, lastBotReply) {
		o.logger.Debug("transcript discarded as TTS echo", "transcript", transcript)
		return false, "", nil
	}

	// Step 4: fast_exit/goodbye predicate.
	if o.fastExit.CheckTranscript(transcript, lastBotReply) {
		o.mu.Lock()
		o.lastActivity = time.Now()
		o.mu.Unlock()
		return true, "goodbye", nil
	}

	o.mu.Lock()
	o.lastActivity = time.Now()
	o.mu.Unlock()
	priorTurns := o.history.Snapshot()
	o.history.Add("user", transcript)

	// Step 5: Thinking, start LLM stream.
	o.setState(StateThinking)
	o.emit(EventBotThinking, sessionID, transcript)

	mode := GenerationMode(o.cfg.LLM.DefaultMode)
	if mode != ModePrecise {
		mode = ModeFriendly
	}

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	tokens, llmErrCh := o.llm.GenerateStream(turnCtx, transcript, lang, mode, priorTurns)

	// Step 6: tee the stream into the reply buffer and the stream shaper.
	// A fast-exit set before a token is yielded here means that token
	// never reaches TTS.
	var reply strings.Builder
	tokensSeen := false
	teeCh := make(chan string)
	teeDone := make(chan struct{})
	go func() {
		defer close(teeDone)
		defer close(teeCh)
		for {
			select {
			case tok, open := <-tokens:
				if !open {
					return
				}
				if pending, _ := o.fastExit.Pending(); pending {
					return
				}
				tokensSeen = true
				reply.WriteString(tok)
				select {
				case teeCh <- tok:
				case <-turnCtx.Done():
					return
				}
			case err, open := <-llmErrCh:
				if open && err != nil {
					metrics.ErrorsTotal.WithLabelValues("llm").Inc()
					o.logger.Warn("llm stream error", "error", err)
					// Degrade to the rule-based fallback only when the stream
					// produced nothing at all; a mid-stream error after real
					// tokens already reached TTS is left alone rather than
					// appending an unrelated canned sentence onto a partial
					// answer.
					if !tokensSeen {
						if pending, _ := o.fastExit.Pending(); !pending {
							fallback := ruleBasedFallback(transcript, lang)
							reply.WriteString(fallback)
							select {
							case teeCh <- fallback:
							case <-turnCtx.Done():
							}
						}
					}
				}
				return
			case <-turnCtx.Done():
				return
			}
		}
	}()

	shaped := ShapeStream(turnCtx, teeCh, ShaperConfig{
		PrebufferChars: o.cfg.TTS.PrebufferChars,
		MinChunkChars:  o.cfg.TTS.MinChunkChars,
		SoftMaxChars:   o.cfg.TTS.SoftMaxChars,
		MaxIdleMs:      o.cfg.TTS.MaxIdleMs,
	})

	// Step 7: Speaking, hand shaped chunks to TTS asynchronously, start
	// the barge-in listener fresh for this turn.
	o.setState(StateSpeaking)
	o.emit(EventBotSpeaking, sessionID, nil)
	o.bargeIn.Arm()

	roundTripObserved := false
	onFirstSpeak := func() {
		if !roundTripObserved {
			roundTripObserved = true
			metrics.RoundTrip.Observe(float64(time.Since(turnStart).Milliseconds()))
		}
	}

	ttsErrCh := make(chan error, 1)
	go func() {
		ttsErrCh <- o.tts.SayAsyncStream(turnCtx, shaped, lang, onFirstSpeak, o.playChunk)
	}()
	metrics.TTSSpeakCalls.Inc()

	stopReason := o.waitForSpeakingDone(micFrames, ttsErrCh)
	if stopReason != "" {
		o.emit(EventInterrupted, sessionID, stopReason)
	}

	cancelTurn()
	if stopReason != "" {
		// TTS was interrupted; give its goroutine a bounded window to
		// acknowledge the stop before moving on.
		select {
		case <-ttsErrCh:
		case <-time.After(200 * time.Millisecond):
		}
	}
	// The tee exits promptly once the turn context is cancelled; waiting on
	// it makes its last write to the reply buffer visible here.
	<-teeDone

	// Step 9: last_bot_reply and last_activity are updated only after TTS
	// fully finishes or is cancelled, never mid-playback.
	o.mu.Lock()
	o.lastBotReply = reply.String()
	o.lastActivity = time.Now()
	lastReply := o.lastBotReply
	o.mu.Unlock()
	o.writeDebug("reply.txt", lastReply)
	if lastReply != "" {
		o.history.Add("assistant", lastReply)
	}
	metrics.Interactions.Inc()

	if stopReason != "" && o.fastExit.IsSessionEnding() {
		return true, stopReason, nil
	}
	return false, "", nil
}

// waitForSpeakingDone is the fine-grained poll loop honoring fast-exit,
// stop-hotword barge events, and barge-in continuous-voice triggers
// while TTS plays.
func (o *Orchestrator) waitForSpeakingDone(micFrames <-chan []int16, ttsErrCh <-chan error) string {
	ticker := time.NewTicker(30 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-ttsErrCh:
			if err != nil {
				metrics.ErrorsTotal.WithLabelValues("tts").Inc()
			}
			return ""
		case <-ticker.C:
			o.drainMicFrames(micFrames)

			if pending, reason := o.fastExit.Pending(); pending {
				o.tts.Stop()
				return reason
			}

			if o.stopWatcher != nil && o.cfg.StopHotword.Enabled {
				if hit := o.checkStopHotword(); hit {
					if o.cfg.StopHotword.Mode == "exit" {
						o.fastExit.TriggerStopHotword(o.cfg.StopHotword.Label)
						o.tts.Stop()
						return "stop_hotword:" + o.cfg.StopHotword.Label
					}
					o.tts.Stop()
					return "stop_hotword_barge"
				}
			}

			if o.cfg.Audio.BargeEnabled && o.cfg.Audio.BargeAllowDuringTTS && o.bargeIn.Debounce() {
				if o.bargeIn.HeardSpeech(o.cfg.Audio.BargeMinVoiceMs) {
					start := time.Now()
					o.tts.Stop()
					metrics.BargeInTriggers.Inc()
					metrics.BargeInLatency.Observe(float64(time.Since(start).Milliseconds()))
					return "barge_in"
				}
			}
		}
	}
}

// drainMicFrames pulls any frames currently buffered on micFrames into
// the barge-in listener's queue and the stop-hotword watcher's pending
// slot, without blocking: a single consumer fanning one physical stream
// out to two logical analyzers during speaking. The correlation-based
// echo suppressor runs inline first, ahead of the dBFS leak-baseline
// model the barge-in listener applies internally.
func (o *Orchestrator) drainMicFrames(micFrames <-chan []int16) {
	for i := 0; i < 8; i++ {
		select {
		case frame, open := <-micFrames:
			if !open {
				return
			}
			clean := frame
			if o.echo != nil {
				clean = o.echo.RemoveEchoRealtime(frame)
			}
			o.bargeIn.PushFrame(clean)
			o.pendingStopFrame = clean
		default:
			return
		}
	}
}

// checkStopHotword runs the stop-hotword detector on the most recently
// drained frame. A detection is only trusted when the barge-in listener
// also currently considers the user to be vocalizing, which filters out
// a spurious acoustic trigger (a TV, a door, echo leak) that happens to
// resemble the keyword but carries none of the surrounding human-voice
// evidence the listener's own gates already require.
func (o *Orchestrator) checkStopHotword() bool {
	frame := o.pendingStopFrame
	if frame == nil || o.stopWatcher == nil {
		return false
	}
	idx, err := o.stopWatcher.Process(frame)
	if err != nil {
		metrics.HotwordFailures.WithLabelValues("stop").Inc()
		return false
	}
	if idx < 0 {
		return false
	}
	if !o.bargeIn.UserIsSpeaking() {
		o.logger.Debug("stop hotword detected without corroborating voice, ignoring")
		return false
	}
	return true
}

// playChunk is the TTSProvider's onAudio sink for every synthesis call:
// it records the chunk for the correlation-based echo suppressor and, if
// a physical output device was supplied to New, plays it.
func (o *Orchestrator) playChunk(chunk []byte) error {
	o.echo.RecordPlayedAudio(chunk)
	if o.playback != nil {
		return o.playback.Write(chunk)
	}
	return nil
}

func (o *Orchestrator) writeDebug(filename, content string) {
	o.mu.Lock()
	dir := o.debugDir
	o.mu.Unlock()
	if dir == "" {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644)
}
