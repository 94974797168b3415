package conversation

import (
	"regexp"
	"strings"
)

// MaxWhatsAppTextLength is the longest text body sent in one message.
const MaxWhatsAppTextLength = 4000

var (
	citationPattern = regexp.MustCompile(`【.*?】`)
	boldPattern     = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// FormatForWhatsApp strips model citation markers, converts markdown bold to
// WhatsApp bold and truncates to MaxWhatsAppTextLength characters.
func FormatForWhatsApp(text string) string {
	text = citationPattern.ReplaceAllString(text, "")
	text = boldPattern.ReplaceAllString(text, "*$1*")
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > MaxWhatsAppTextLength {
		text = string(runes[:MaxWhatsAppTextLength-3]) + "..."
	}
	return text
}
