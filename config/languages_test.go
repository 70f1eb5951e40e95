package config

import (
	"strings"
	"testing"
)

func TestLanguageByCode(t *testing.T) {
	l, ok := LanguageByCode("es")
	if !ok {
		t.Fatal("es not found")
	}
	if l.DisplayName != "Spanish" || l.ASRModel != ASRModelNova3 || l.DeepgramCode != "es" {
		t.Fatalf("es = %+v", l)
	}

	if _, ok := LanguageByCode("xx"); ok {
		t.Fatal("unknown code resolved")
	}
}

func TestEnglishUsesFlux(t *testing.T) {
	if got := ASRModelForLanguage("en"); got != ASRModelFlux {
		t.Fatalf("en model = %q, want flux", got)
	}
	// Every other supported language rides Nova-3.
	for _, l := range Languages {
		if l.Code == "en" {
			continue
		}
		if l.ASRModel != ASRModelNova3 {
			t.Fatalf("%s model = %q, want nova3", l.Code, l.ASRModel)
		}
	}
}

func TestUnknownLanguageDefaults(t *testing.T) {
	if got := ASRModelForLanguage("xx"); got != ASRModelFlux {
		t.Fatalf("unknown model = %q, want flux", got)
	}
	if got := DeepgramLanguageCode("xx"); got != "en" {
		t.Fatalf("unknown deepgram code = %q, want en", got)
	}
	if got := LanguageDisplayName("xx"); got != "English" {
		t.Fatalf("unknown display name = %q, want English", got)
	}
}

func TestValidExpression(t *testing.T) {
	for _, expr := range []string{"happy", "neutral", "serious"} {
		if !ValidExpression(expr) {
			t.Fatalf("%q rejected", expr)
		}
	}
	for _, expr := range []string{"", "angry", "expressive"} {
		if ValidExpression(expr) {
			t.Fatalf("%q accepted", expr)
		}
	}
}

func TestFallbackMessagesCoverEveryLanguage(t *testing.T) {
	for _, l := range Languages {
		if ErrorMessage(l.Code) == "" {
			t.Fatalf("no error message for %s", l.Code)
		}
		if TimeoutMessage(l.Code) == "" {
			t.Fatalf("no timeout message for %s", l.Code)
		}
	}
}

func TestFallbackMessagesDefaultToEnglish(t *testing.T) {
	if got := ErrorMessage("xx"); !strings.HasPrefix(got, "I'm sorry") {
		t.Fatalf("unknown-language error message = %q", got)
	}
	if got := TimeoutMessage("xx"); !strings.HasPrefix(got, "I'm sorry") {
		t.Fatalf("unknown-language timeout message = %q", got)
	}
	if got := ErrorMessage("es"); !strings.HasPrefix(got, "Lo siento") {
		t.Fatalf("es error message = %q", got)
	}
}
