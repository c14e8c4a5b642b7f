package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultStandbyProfile(t *testing.T) {
	cfg := Default()
	if cfg.Audio.SilenceMsToEnd != 1000 {
		t.Errorf("standby silence_ms_to_end = %d, want 1000", cfg.Audio.SilenceMsToEnd)
	}
	if cfg.Audio.MaxRecordSeconds != 4 {
		t.Errorf("standby max_record_seconds = %d, want 4", cfg.Audio.MaxRecordSeconds)
	}
	if cfg.Audio.MinValidSeconds != 0.7 {
		t.Errorf("standby min_valid_seconds = %v, want 0.7", cfg.Audio.MinValidSeconds)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample_rate = %d, want 16000", cfg.Audio.SampleRate)
	}
}

func TestInSessionProfile(t *testing.T) {
	if InSessionSilenceMs() != 450 {
		t.Errorf("in-session silence_ms_to_end = %d, want 450", InSessionSilenceMs())
	}
	if InSessionMaxRecordSeconds() != 6 {
		t.Errorf("in-session max_record_seconds = %d, want 6", InSessionMaxRecordSeconds())
	}
	if InSessionMinValidSeconds() != 0.35 {
		t.Errorf("in-session min_valid_seconds = %v, want 0.35", InSessionMinValidSeconds())
	}
}

func TestDefaultWakePhrasesCarryLanguages(t *testing.T) {
	cfg := Default()
	langs := map[string]string{}
	for _, p := range cfg.Wake.Phrases {
		langs[p.Phrase] = p.Lang
	}
	if langs["hello robot"] != "en" || langs["salut robot"] != "ro" {
		t.Fatalf("unexpected default wake phrases: %+v", cfg.Wake.Phrases)
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.Audio.BlockMs != 20 {
		t.Fatalf("Load(\"\") did not return defaults: %+v", cfg)
	}
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "audio:\n  samplerate: 8000\n  bargeminvoicems: 500\nllm:\n  model: test-model\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", path, err)
	}
	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("sample_rate override not applied: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.BargeMinVoiceMs != 500 {
		t.Errorf("barge_min_voice_ms override not applied: %d", cfg.Audio.BargeMinVoiceMs)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("llm model override not applied: %q", cfg.LLM.Model)
	}
	// Untouched keys keep their defaults.
	if cfg.TTS.PrebufferChars != 120 {
		t.Errorf("unrelated default lost: prebuffer_chars = %d", cfg.TTS.PrebufferChars)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestSilenceDuration(t *testing.T) {
	if SilenceDuration(450) != 450*time.Millisecond {
		t.Fatalf("SilenceDuration(450) = %v", SilenceDuration(450))
	}
}
