package translation

import (
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Configure loads the "default" domain for lang from dir. Locale suffixes
// such as "en_US.UTF-8" are reduced to the language code.
func Configure(dir, lang string) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "_.-"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		lang = "en"
	}
	gotext.Configure(dir, lang, "default")
}

// GetLanguage returns the active language, "en" when none was configured
func GetLanguage() string {
	lang := gotext.GetLanguage()

	if lang == "und" || lang == "" {
		return "en"
	}

	return lang
}

func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
