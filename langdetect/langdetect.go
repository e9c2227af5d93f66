// Package langdetect detects the language of transcribed text.
package langdetect

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// Detect returns the BCP 47 code and English display name of the
// language the text is most likely written in. It returns ("", "")
// when the text is empty or no language can be determined.
func Detect(text string) (code, name string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithLowAccuracyMode().
			Build()
	})

	lang, ok := detector.DetectLanguageOf(text)
	if !ok {
		return "", ""
	}

	code = lang.IsoCode639_1().String()
	code = strings.ToLower(code)

	tag, err := language.Parse(code)
	if err != nil {
		return code, lang.String()
	}
	return code, display.English.Tags().Name(tag)
}
