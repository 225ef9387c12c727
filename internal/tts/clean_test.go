package tts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ठीक है", "ठीक है"},
		{"emoji", "नमस्ते 🙏🌾 किसान", "नमस्ते किसान"},
		{"markdown", "**PM-KISAN** ## लाभ", "PM-KISAN लाभ"},
		{"speaker label", "Sahaya: आपको ₹6000 मिलेंगे", "आपको ₹6000 मिलेंगे"},
		{"paragraphs", "पहला\n\nदूसरा  वाक्य\n", "पहला. दूसरा वाक्य"},
		{"only decoration", "✅ ** 🎉", ""},
		{"keeps joiners", "ന്‍", "ന്‍"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}
