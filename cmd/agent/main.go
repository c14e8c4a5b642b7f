package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/hotword"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

// stdLogger adapts the standard library's log package to
// orchestrator.Logger.
type stdLogger struct{}

func (stdLogger) Debug(msg string, args ...interface{}) { logWithArgs("DEBUG", msg, args...) }
func (stdLogger) Info(msg string, args ...interface{})  { logWithArgs("INFO", msg, args...) }
func (stdLogger) Warn(msg string, args ...interface{})  { logWithArgs("WARN", msg, args...) }
func (stdLogger) Error(msg string, args ...interface{}) { logWithArgs("ERROR", msg, args...) }

func logWithArgs(level, msg string, args ...interface{}) {
	log.Printf("[%s] %s %v", level, msg, args)
}

// devicePlayback implements orchestrator.PlaybackSink by appending
// synthesized PCM to a buffer the malgo playback callback drains.
type devicePlayback struct {
	mu  sync.Mutex
	buf []byte
}

func (p *devicePlayback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, pcm...)
	return nil
}

func (p *devicePlayback) drain(out []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (p *devicePlayback) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = nil
}

func buildSTT() orchestrator.ASRProvider {
	name := envOr("STT_PROVIDER", "groq")
	switch name {
	case "openai":
		key := mustEnv("OPENAI_API_KEY", "openai STT")
		return sttProvider.NewOpenAISTT(key, envOr("OPENAI_STT_MODEL", "whisper-1"))
	case "deepgram":
		key := mustEnv("DEEPGRAM_API_KEY", "deepgram STT")
		return sttProvider.NewDeepgramSTT(key, 16000)
	case "assemblyai":
		key := mustEnv("ASSEMBLYAI_API_KEY", "assemblyai STT")
		return sttProvider.NewAssemblyAISTT(key)
	default:
		key := mustEnv("GROQ_API_KEY", "groq STT")
		return sttProvider.NewGroqSTT(key, envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo"))
	}
}

func buildLLM(cfg config.Config) orchestrator.LLMProvider {
	name := envOr("LLM_PROVIDER", cfg.LLM.Provider)
	switch name {
	case "openai":
		key := mustEnv("OPENAI_API_KEY", "openai LLM")
		return llmProvider.NewOpenAILLM(key, envOr("OPENAI_LLM_MODEL", "gpt-4o"))
	case "anthropic":
		key := mustEnv("ANTHROPIC_API_KEY", "anthropic LLM")
		return llmProvider.NewAnthropicLLM(key, envOr("ANTHROPIC_LLM_MODEL", "claude-3-5-sonnet-20241022"))
	case "google":
		key := mustEnv("GOOGLE_API_KEY", "google LLM")
		return llmProvider.NewGoogleLLM(key, envOr("GOOGLE_LLM_MODEL", "gemini-1.5-flash"))
	case "groq":
		key := mustEnv("GROQ_API_KEY", "groq LLM")
		return llmProvider.NewGroqLLM(key, envOr("GROQ_LLM_MODEL", "llama-3.3-70b-versatile"))
	default:
		// ollama is the zero-config default (internal/config.Default):
		// local-first, no API key required.
		llm, err := llmProvider.NewOllamaLLM(envOr("OLLAMA_HOST", cfg.LLM.Host), envOr("OLLAMA_MODEL", cfg.LLM.Model))
		if err != nil {
			log.Fatalf("failed to build ollama LLM provider: %v", err)
		}
		return llm
	}
}

// buildWatcher constructs an ONNX-backed hotword Watcher for the given
// role (wake or stop) when the required model paths are present in the
// environment; otherwise the watcher carries no native detector: for
// the wake role the orchestrator falls back to ASR-based wake matching
// for the process lifetime, and a stop watcher without a detector never
// reports a hit.
func buildWatcher(role string, phrases []string, threshold float64, logger orchestrator.Logger) *hotword.Watcher {
	melPath := os.Getenv(role + "_MELSPEC_MODEL")
	embedPath := os.Getenv(role + "_EMBEDDING_MODEL")
	keywordModelsEnv := os.Getenv(role + "_KEYWORD_MODELS") // "label=path,label=path"
	if melPath == "" || embedPath == "" || keywordModelsEnv == "" {
		return hotword.NewWatcher(nil, hotword.NewASRFallback(phrases, 0), logger)
	}

	models := map[string]string{}
	for _, pair := range splitNonEmpty(keywordModelsEnv, ",") {
		kv := splitNonEmpty(pair, "=")
		if len(kv) == 2 {
			models[kv[0]] = kv[1]
		}
	}

	detector, err := hotword.NewOnnxKeywordDetector(hotword.OnnxKeywordConfig{
		MelspecModel:   melPath,
		EmbeddingModel: embedPath,
		KeywordModels:  models,
		Threshold:      threshold,
	})
	if err != nil {
		log.Printf("[WARN] %s hotword detector unavailable, falling back to ASR matching: %v", role, err)
		return hotword.NewWatcher(nil, hotword.NewASRFallback(phrases, 0), logger)
	}

	return hotword.NewWatcher(detector, hotword.NewASRFallback(phrases, 0), logger)
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	start := 0
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + len(sep)
		}
	}
	if part := s[start:]; part != "" {
		out = append(out, part)
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustEnv(key, purpose string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("Error: %s must be set for %s", key, purpose)
	}
	return v
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: no .env file found, using system environment variables")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	lokutorKey := mustEnv("LOKUTOR_API_KEY", "lokutor TTS")

	stt := buildSTT()
	llm := buildLLM(cfg)
	tts := ttsProvider.NewLokutorTTS(lokutorKey, orchestrator.VoiceF1)

	logger := stdLogger{}

	wakePhrases := make([]string, len(cfg.Wake.Phrases))
	for i, p := range cfg.Wake.Phrases {
		wakePhrases[i] = p.Phrase
	}
	wakeWatcher := buildWatcher("WAKE", wakePhrases, cfg.Wake.Porcupine.Sensitivity, logger)

	var stopWatcher *hotword.Watcher
	if cfg.StopHotword.Enabled {
		stopWatcher = buildWatcher("STOP", []string{cfg.StopHotword.Label}, cfg.StopHotword.Sensitivity, logger)
	}

	playback := &devicePlayback{}

	orch := orchestrator.New(cfg, stt, llm, tts, wakeWatcher, stopWatcher, playback, logger)
	orch.OnEvent(func(ev orchestrator.OrchestratorEvent) {
		switch ev.Type {
		case orchestrator.EventWake:
			fmt.Printf("\n[WAKE] %v\n", ev.Data)
		case orchestrator.EventBotThinking:
			fmt.Printf("[THINKING] %v\n", ev.Data)
		case orchestrator.EventBotSpeaking:
			fmt.Println("[SPEAKING]")
		case orchestrator.EventInterrupted:
			fmt.Println("[INTERRUPTED]")
			playback.reset()
		case orchestrator.EventSessionEnded:
			fmt.Printf("[SESSION ENDED] %v\n", ev.Data)
			playback.reset()
		case orchestrator.EventErrorEvent:
			fmt.Printf("[ERROR] %v\n", ev.Data)
		}
	})

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("failed to init audio context: %v", err)
	}
	defer mctx.Uninit()

	micFrames := make(chan []int16, 32)

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			frame := audio.BytesToInt16(pInput)
			select {
			case micFrames <- frame:
			default:
				// Drop the oldest buffered frame rather than block the
				// realtime audio callback.
				select {
				case <-micFrames:
				default:
				}
				select {
				case micFrames <- frame:
				default:
				}
			}
		}
		if pOutput != nil {
			playback.drain(pOutput)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.Audio.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatalf("failed to init audio device: %v", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatalf("failed to start audio device: %v", err)
	}

	fmt.Printf("Dialogue orchestrator started (sample_rate=%dHz, block_ms=%d). Waiting for wake word...\n",
		cfg.Audio.SampleRate, cfg.Audio.BlockMs)
	fmt.Println("Press Ctrl+C to exit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Run(ctx, micFrames)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		fmt.Println("\nShutting down...")
		cancel()
		<-runDone
	case err := <-runDone:
		if err != nil {
			log.Printf("orchestrator exited: %v", err)
		}
	}
}
