package translate

import "context"

type Provider interface {
	// Translate renders text from sourceLang into targetLang. Both are
	// ISO 639-1 codes. Implementations must be safe for concurrent use.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Close() error
}

// Names maps supported ISO 639-1 codes to their native display names.
var Names = map[string]string{
	"ko": "한국어",
	"en": "English",
	"ja": "日本語",
	"zh": "中文",
	"es": "Español",
	"fr": "Français",
	"de": "Deutsch",
	"pt": "Português",
	"ru": "Русский",
	"ar": "العربية",
	"hi": "हिन्दी",
	"vi": "Tiếng Việt",
	"th": "ไทย",
	"id": "Bahasa Indonesia",
}

// Name returns the display name for a language code, or the code itself
// when unknown.
func Name(code string) string {
	if n, ok := Names[code]; ok {
		return n
	}
	return code
}
