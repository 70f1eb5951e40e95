package config

// ASRModel selects the speech recognition model family.
type ASRModel string

const (
	// ASRModelFlux is English only and carries built-in turn detection.
	ASRModelFlux ASRModel = "flux"
	// ASRModelNova3 is multilingual; turn detection relies on endpointing.
	ASRModelNova3 ASRModel = "nova3"
	// ASRModelNova2 covers single-language models outside Nova-3 coverage.
	ASRModelNova2 ASRModel = "nova2"
)

// Expression is an avatar emotional expression.
type Expression string

const (
	ExpressionHappy   Expression = "happy"
	ExpressionNeutral Expression = "neutral"
	ExpressionSerious Expression = "serious"
)

// DefaultExpression is used when the LLM emits no expression prefix.
const DefaultExpression = ExpressionNeutral

// ValidExpression reports whether s names a known expression.
func ValidExpression(s string) bool {
	switch Expression(s) {
	case ExpressionHappy, ExpressionNeutral, ExpressionSerious:
		return true
	}
	return false
}

// Language describes one supported conversation language.
type Language struct {
	Code         string   `json:"code"`
	DisplayName  string   `json:"display_name"`
	ASRModel     ASRModel `json:"asr_model"`
	DeepgramCode string   `json:"deepgram_code"`
}

// Languages lists every supported language in menu order.
var Languages = []Language{
	{"en", "English", ASRModelFlux, "en"},
	{"es", "Spanish", ASRModelNova3, "es"},
	{"fr", "French", ASRModelNova3, "fr"},
	{"de", "German", ASRModelNova3, "de"},
	{"it", "Italian", ASRModelNova3, "it"},
	{"pt", "Portuguese", ASRModelNova3, "pt"},
	{"pl", "Polish", ASRModelNova3, "pl"},
	{"tr", "Turkish", ASRModelNova3, "tr"},
	{"ru", "Russian", ASRModelNova3, "ru"},
	{"nl", "Dutch", ASRModelNova3, "nl"},
	{"cs", "Czech", ASRModelNova3, "cs"},
	{"ja", "Japanese", ASRModelNova3, "ja"},
	{"hu", "Hungarian", ASRModelNova3, "hu"},
	{"ko", "Korean", ASRModelNova3, "ko"},
	{"hi", "Hindi", ASRModelNova3, "hi"},
}

// LanguageByCode returns the language entry for code, or false if unsupported.
func LanguageByCode(code string) (Language, bool) {
	for _, l := range Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// ASRModelForLanguage returns the ASR model for a language code,
// defaulting to Flux for unknown codes.
func ASRModelForLanguage(code string) ASRModel {
	if l, ok := LanguageByCode(code); ok {
		return l.ASRModel
	}
	return ASRModelFlux
}

// DeepgramLanguageCode maps a language code to Deepgram's language
// parameter, defaulting to English.
func DeepgramLanguageCode(code string) string {
	if l, ok := LanguageByCode(code); ok {
		return l.DeepgramCode
	}
	return "en"
}

// LanguageDisplayName returns the human readable name for a language code.
func LanguageDisplayName(code string) string {
	if l, ok := LanguageByCode(code); ok {
		return l.DisplayName
	}
	return "English"
}
