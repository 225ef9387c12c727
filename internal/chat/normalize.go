package chat

import "strings"

// Recognizers often mishear scheme acronyms. These rewrite the common
// variants into requests the backend understands. First match wins.
var canonicalRequests = []struct {
	variants []string
	request  string
}{
	{
		variants: []string{"सीसीसी", "केसीसी", "si si si", "kcc", "kisan credit", "credit card"},
		request:  "kcc ke baare mein batao",
	},
	{
		variants: []string{"पीएम किसान", "पी एम किसान", "pihem kisan", "pm kisan", "kisan samman"},
		request:  "pm kisan ke baare mein batao",
	},
	{
		variants: []string{"पीएमएफबीवाई", "फसल बीमा", "pmfby", "fasal bima"},
		request:  "pmfby fasal bima ke baare mein batao",
	},
}

// NormalizeTranscript maps misheard scheme names to a canonical request.
// Other text is returned unchanged.
func NormalizeTranscript(text string) string {
	t := strings.ToLower(text)
	for _, c := range canonicalRequests {
		for _, v := range c.variants {
			if strings.Contains(t, v) {
				return c.request
			}
		}
	}
	return text
}
