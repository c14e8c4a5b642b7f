// Package config loads the orchestrator's grouped configuration via viper,
// mirroring the audio/wake/stop_hotword/tts/llm sections of the external
// interface contract.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WakePhrase pairs a configured wake phrase with the language a session
// should start in when it matches. A phrase with no explicit Lang falls
// back to Config.Wake.DefaultLang; the language is always configured,
// never sniffed from the phrase text.
type WakePhrase struct {
	Phrase string
	Lang   string
}

type AudioConfig struct {
	SampleRate          int
	BlockMs             int
	VADAggressiveness   int
	SilenceMsToEnd      int
	MaxRecordSeconds    int
	MinValidSeconds     float64
	SessionIdleSeconds  int
	BargeEnabled        bool
	BargeAllowDuringTTS bool
	BargeMinVoiceMs     int
	BargeDebounceMs     int
	BargeCooldownMs     int
	BargeArmAfterMs     int
	BargeVoiceDropMs    int
	BargeVoiceHoldMs    int
	BargeLeakMarginDb   float64
	BargeLeakDecayMs    int
	BargeMinRMSDbfs     float64
	BargeHighpassHz     float64
	BargeZCRMin         float64
	BargeZCRMax         float64
	BargeRequireCobra   bool
	BargeCobraRelaxDb   float64
	PreferEchoCancel    bool
	InputDeviceHint     string
}

type PorcupineConfig struct {
	AccessKey    string
	KeywordPaths []string
	Sensitivity  float64
}

type WakeConfig struct {
	Engine        string // porcupine | asr | auto
	Phrases       []WakePhrase
	DefaultLang   string
	AcknowledgeRo string
	AcknowledgeEn string
	Porcupine     PorcupineConfig
}

type StopHotwordConfig struct {
	Enabled     bool
	Mode        string // exit | barge
	Label       string
	AccessKey   string
	KeywordPath string
	Sensitivity float64
}

type TTSConfig struct {
	PrebufferChars int
	MinChunkChars  int
	SoftMaxChars   int
	MaxIdleMs      int
}

type LLMConfig struct {
	Provider        string
	Host            string
	Model           string
	Temperature     float64
	MaxTokens       int
	DefaultMode     string
	StrictFacts     string
	WarmupEnabled   bool
	HistoryEnabled  bool
	MaxHistoryTurns int
}

type Config struct {
	Audio       AudioConfig
	Wake        WakeConfig
	StopHotword StopHotwordConfig
	TTS         TTSConfig
	LLM         LLMConfig
	DataDir     string
}

// Default returns the built-in configuration: standby capture profile,
// barge-in tuning, and the zero-config local LLM.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:          16000,
			BlockMs:             20,
			VADAggressiveness:   2,
			SilenceMsToEnd:      1000,
			MaxRecordSeconds:    4,
			MinValidSeconds:     0.7,
			SessionIdleSeconds:  20,
			BargeEnabled:        true,
			BargeAllowDuringTTS: true,
			BargeMinVoiceMs:     800,
			BargeDebounceMs:     150,
			BargeCooldownMs:     800,
			BargeArmAfterMs:     400,
			BargeVoiceDropMs:    120,
			BargeVoiceHoldMs:    300,
			BargeLeakMarginDb:   3.0,
			BargeLeakDecayMs:    1200,
			BargeMinRMSDbfs:     -28.0,
			BargeHighpassHz:     300.0,
			BargeZCRMin:         0.05,
			BargeZCRMax:         0.35,
			BargeRequireCobra:   false,
			BargeCobraRelaxDb:   3.0,
			PreferEchoCancel:    true,
		},
		Wake: WakeConfig{
			Engine:        "auto",
			Phrases:       []WakePhrase{{Phrase: "hello robot", Lang: "en"}, {Phrase: "salut robot", Lang: "ro"}},
			DefaultLang:   "en",
			AcknowledgeRo: "Da, te ascult.",
			AcknowledgeEn: "Yes, I'm listening.",
		},
		StopHotword: StopHotwordConfig{
			Enabled:     false,
			Mode:        "exit",
			Label:       "stop",
			Sensitivity: 0.6,
		},
		TTS: TTSConfig{
			PrebufferChars: 120,
			MinChunkChars:  60,
			SoftMaxChars:   140,
			MaxIdleMs:      250,
		},
		LLM: LLMConfig{
			Provider:        "ollama",
			Host:            "http://localhost:11434",
			Model:           "llama3.2",
			Temperature:     0.7,
			MaxTokens:       150,
			DefaultMode:     "friendly",
			WarmupEnabled:   true,
			HistoryEnabled:  true,
			MaxHistoryTurns: 10,
		},
		DataDir: "./data",
	}
}

// InSessionSilenceMs, InSessionMaxRecordSeconds, and
// InSessionMinValidSeconds are the in-session capture profile, layered
// on top of the standby profile captured by Default(). Mid-session
// utterances endpoint faster and admit shorter phrases.
func InSessionSilenceMs() int           { return 450 }
func InSessionMaxRecordSeconds() int    { return 6 }
func InSessionMinValidSeconds() float64 { return 0.35 }

// Load reads configuration from an optional YAML/TOML/JSON file at path
// (viper auto-detects the format), then layers environment variable
// overrides on top, replacing "." with "_" so nested keys map onto env
// vars like AUDIO_SAMPLERATE or LLM_MODEL. An empty path skips the file
// and returns defaults overridden only by the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	bindDefaults(v, cfg)

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// bindDefaults seeds viper with the zero-config defaults so
// AutomaticEnv-only overrides (no config file) still resolve every key.
func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("audio.samplerate", cfg.Audio.SampleRate)
	v.SetDefault("audio.blockms", cfg.Audio.BlockMs)
	v.SetDefault("audio.vadaggressiveness", cfg.Audio.VADAggressiveness)
	v.SetDefault("audio.silencemstoend", cfg.Audio.SilenceMsToEnd)
	v.SetDefault("audio.maxrecordseconds", cfg.Audio.MaxRecordSeconds)
	v.SetDefault("audio.minvalidseconds", cfg.Audio.MinValidSeconds)
	v.SetDefault("audio.sessionidleseconds", cfg.Audio.SessionIdleSeconds)
	v.SetDefault("audio.bargeenabled", cfg.Audio.BargeEnabled)
	v.SetDefault("audio.bargeallowduringtts", cfg.Audio.BargeAllowDuringTTS)
	v.SetDefault("audio.bargeminvoicems", cfg.Audio.BargeMinVoiceMs)
	v.SetDefault("audio.bargedebouncems", cfg.Audio.BargeDebounceMs)
	v.SetDefault("audio.bargecooldownms", cfg.Audio.BargeCooldownMs)
	v.SetDefault("audio.bargearmafterms", cfg.Audio.BargeArmAfterMs)
	v.SetDefault("audio.bargevoicedropms", cfg.Audio.BargeVoiceDropMs)
	v.SetDefault("audio.bargevoiceholdms", cfg.Audio.BargeVoiceHoldMs)
	v.SetDefault("audio.bargeleakmargindb", cfg.Audio.BargeLeakMarginDb)
	v.SetDefault("audio.bargeleakdecayms", cfg.Audio.BargeLeakDecayMs)
	v.SetDefault("audio.bargeminrmsdbfs", cfg.Audio.BargeMinRMSDbfs)
	v.SetDefault("audio.bargehighpasshz", cfg.Audio.BargeHighpassHz)
	v.SetDefault("audio.bargezcrmin", cfg.Audio.BargeZCRMin)
	v.SetDefault("audio.bargezcrmax", cfg.Audio.BargeZCRMax)
	v.SetDefault("audio.bargerequirecobra", cfg.Audio.BargeRequireCobra)
	v.SetDefault("audio.bargecobrarelaxdb", cfg.Audio.BargeCobraRelaxDb)
	v.SetDefault("audio.preferechocancel", cfg.Audio.PreferEchoCancel)
	v.SetDefault("audio.inputdevicehint", cfg.Audio.InputDeviceHint)

	v.SetDefault("wake.engine", cfg.Wake.Engine)
	v.SetDefault("wake.defaultlang", cfg.Wake.DefaultLang)
	v.SetDefault("wake.acknowledgero", cfg.Wake.AcknowledgeRo)
	v.SetDefault("wake.acknowledgeen", cfg.Wake.AcknowledgeEn)

	v.SetDefault("stophotword.enabled", cfg.StopHotword.Enabled)
	v.SetDefault("stophotword.mode", cfg.StopHotword.Mode)
	v.SetDefault("stophotword.label", cfg.StopHotword.Label)
	v.SetDefault("stophotword.sensitivity", cfg.StopHotword.Sensitivity)

	v.SetDefault("tts.prebufferchars", cfg.TTS.PrebufferChars)
	v.SetDefault("tts.minchunkchars", cfg.TTS.MinChunkChars)
	v.SetDefault("tts.softmaxchars", cfg.TTS.SoftMaxChars)
	v.SetDefault("tts.maxidlems", cfg.TTS.MaxIdleMs)

	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.host", cfg.LLM.Host)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.maxtokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.defaultmode", cfg.LLM.DefaultMode)
	v.SetDefault("llm.warmupenabled", cfg.LLM.WarmupEnabled)
	v.SetDefault("llm.historyenabled", cfg.LLM.HistoryEnabled)
	v.SetDefault("llm.maxhistoryturns", cfg.LLM.MaxHistoryTurns)

	v.SetDefault("datadir", cfg.DataDir)
}

// SilenceDuration is a small convenience used by the Utterance Recorder.
func SilenceDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
