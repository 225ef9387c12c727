package lang

// Detector infers a language from the script of recognized text. Detection is
// advisory: callers record it as the detected language and never switch the
// active session language on its own.
type Detector struct {
	langs []Language
	def   Tag
}

// NewDetector returns a detector over all supported languages.
func NewDetector() *Detector {
	return &Detector{langs: Supported(), def: Default}
}

// Detect counts characters falling into each language's Unicode block and
// returns the language with the strict maximum. Ties go to the earlier
// declared language; text with no matching characters yields the default.
func (d *Detector) Detect(text string) Tag {
	if text == "" {
		return d.def
	}

	counts := make([]int, len(d.langs))
	for _, r := range text {
		for i, l := range d.langs {
			if r >= l.Lo && r <= l.Hi {
				counts[i]++
			}
		}
	}

	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	if counts[best] == 0 {
		return d.def
	}
	return d.langs[best].Tag
}
