package orchestrator

import "testing"

func TestRuleBasedFallbackEchoesTranscript(t *testing.T) {
	got := ruleBasedFallback("what time is it", LanguageEn)
	want := `I heard: "what time is it".`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRuleBasedFallbackEmptyTranscript(t *testing.T) {
	if got := ruleBasedFallback("", LanguageEn); got == "" {
		t.Fatalf("expected a non-empty fallback sentence for empty input")
	}
}

func TestRuleBasedFallbackRomanian(t *testing.T) {
	got := ruleBasedFallback("cat e ceasul", LanguageRo)
	want := `Am înțeles: "cat e ceasul".`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
