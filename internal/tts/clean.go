package tts

import (
	"strings"
)

// speaker labels the assistant sometimes prefixes to its replies
var speakerLabels = []string{"Sahaya:", "sahaya:", "SAHAYA:", "सहाया:"}

// CleanText prepares assistant text for speech: it drops pictographs,
// markdown emphasis and headings, speaker labels, and collapses whitespace.
// An empty result means there is nothing to speak.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		if isPictograph(r) {
			return -1
		}
		return r
	}, text)

	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "##", "")
	text = strings.ReplaceAll(text, "#", "")
	for _, l := range speakerLabels {
		text = strings.ReplaceAll(text, l, "")
	}

	// paragraph breaks read better as sentence breaks
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	var kept []string
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, ". ")
}

func isPictograph(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // symbols, emoticons, transport, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x1F000 && r <= 0x1F2FF: // tiles, cards, enclosed
		return true
	case r == 0xFE0F: // emoji presentation selector
		return true
	}
	return false
}
