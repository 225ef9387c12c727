// Package lang holds the table of supported conversation languages and the
// script based detector that infers a language from recognized text.
package lang

import (
	"fmt"
	"strings"
)

// Tag is a BCP-47 language tag such as "hi-IN".
type Tag string

// Supported language tags
const (
	Hindi     Tag = "hi-IN"
	Tamil     Tag = "ta-IN"
	Kannada   Tag = "kn-IN"
	Telugu    Tag = "te-IN"
	Malayalam Tag = "ml-IN"
)

// Default is the primary language of the assistant. It is served by the
// primary synthesis provider and wins all-zero detection ties.
const Default = Hindi

// Language describes one supported language.
type Language struct {
	Tag         Tag
	Name        string // native name
	EnglishName string
	Script      string
	// Unicode block of the script, inclusive.
	Lo, Hi rune
	// Greeting is the opening line spoken when a call starts.
	Greeting string
	// On-device voice parameters.
	Voice string
	Rate  float64
	Pitch float64
	// LowConfidence marks recognizers known to be less reliable for this
	// language; alternative hypotheses are considered for them.
	LowConfidence bool
}

// Declaration order is the detector's tie-break priority.
var languages = []Language{
	{
		Tag:         Hindi,
		Name:        "हिंदी",
		EnglishName: "Hindi",
		Script:      "Devanagari",
		Lo:          0x0900,
		Hi:          0x097F,
		Greeting:    "नमस्ते! मैं सहाया हूँ — आपकी सरकारी योजना सहायक। आप PM-KISAN, KCC, फसल बीमा के बारे में पूछ सकते हैं।",
		Voice:       "shimmer",
		Rate:        0.82,
		Pitch:       1.08,
	},
	{
		Tag:           Tamil,
		Name:          "தமிழ்",
		EnglishName:   "Tamil",
		Script:        "Tamil",
		Lo:            0x0B80,
		Hi:            0x0BFF,
		Greeting:      "வணக்கம்! நான் சஹாயா — உங்கள் அரசு திட்ட உதவியாளர். PM-KISAN, KCC, பயிர் காப்பீடு பற்றி கேளுங்கள்.",
		Voice:         "nova",
		Rate:          0.85,
		Pitch:         1.05,
		LowConfidence: true,
	},
	{
		Tag:           Kannada,
		Name:          "ಕನ್ನಡ",
		EnglishName:   "Kannada",
		Script:        "Kannada",
		Lo:            0x0C80,
		Hi:            0x0CFF,
		Greeting:      "ನಮಸ್ಕಾರ! ನಾನು ಸಹಾಯ — ನಿಮ್ಮ ಸರ್ಕಾರಿ ಯೋಜನೆ ಸಹಾಯಕ. PM-KISAN, KCC, ಬೆಳೆ ವಿಮೆ ಬಗ್ಗೆ ಕೇಳಿ.",
		Voice:         "nova",
		Rate:          0.85,
		Pitch:         1.05,
		LowConfidence: true,
	},
	{
		Tag:           Telugu,
		Name:          "తెలుగు",
		EnglishName:   "Telugu",
		Script:        "Telugu",
		Lo:            0x0C00,
		Hi:            0x0C7F,
		Greeting:      "నమస్కారం! నేను సహాయ — మీ ప్రభుత్వ పథకాల సహాయకురాలు. PM-KISAN, KCC, పంట బీమా గురించి అడగండి.",
		Voice:         "nova",
		Rate:          0.85,
		Pitch:         1.05,
		LowConfidence: true,
	},
	{
		Tag:           Malayalam,
		Name:          "മലയാളം",
		EnglishName:   "Malayalam",
		Script:        "Malayalam",
		Lo:            0x0D00,
		Hi:            0x0D7F,
		Greeting:      "നമസ്കാരം! ഞാൻ സഹായ — നിങ്ങളുടെ സർക്കാർ പദ്ധതി സഹായി. PM-KISAN, KCC, വിള ഇൻഷുറൻസ് എന്നിവയെ കുറിച്ച് ചോദിക്കൂ.",
		Voice:         "nova",
		Rate:          0.85,
		Pitch:         1.05,
		LowConfidence: true,
	},
}

// Supported returns the supported languages in priority order.
func Supported() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Lookup returns the language for tag.
func Lookup(tag Tag) (Language, bool) {
	for _, l := range languages {
		if l.Tag == tag {
			return l, true
		}
	}
	return Language{}, false
}

// MustLookup is Lookup falling back to the default language.
func MustLookup(tag Tag) Language {
	if l, ok := Lookup(tag); ok {
		return l
	}
	l, _ := Lookup(Default)
	return l
}

// Parse normalises s ("ml-in", "ML_IN") and checks it is supported.
func Parse(s string) (Tag, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	parts := strings.SplitN(s, "-", 2)
	if len(parts) == 2 {
		s = strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[1])
	}
	tag := Tag(s)
	if _, ok := Lookup(tag); !ok {
		return "", fmt.Errorf("unsupported language: %q", s)
	}
	return tag, nil
}

// Base returns the primary subtag, e.g. "hi" for "hi-IN".
func (t Tag) Base() string {
	s := string(t)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsDefault reports whether t is the primary language.
func (t Tag) IsDefault() bool { return t == Default }

func (t Tag) String() string { return string(t) }
