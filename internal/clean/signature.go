package clean

import (
	"regexp"
	"strings"
)

var (
	sentFromRe   = regexp.MustCompile(`(?i)^Sent from (my )?(iPhone|iPad|Android|Galaxy|Samsung|mobile|phone|Mail for Windows)`)
	getOutlookRe = regexp.MustCompile(`(?i)^Get Outlook for `)
	legalCapsRe  = regexp.MustCompile(`^[A-Z][A-Z0-9 ,.:;'"()\-]{59,}$`)
)

// StripSignature cuts the body at the first signature delimiter: a line equal
// to "--", "-- ", or "__", a mobile-client footer, an Outlook promo line, or
// a long all-caps legal header. If stripping removes more than 80% of an
// input of at least 50 characters, the original is kept.
func StripSignature(body string) string {
	if body == "" {
		return body
	}

	lines := strings.Split(body, "\n")
	cut := len(lines)
	for i, line := range lines {
		trimmedRight := strings.TrimRight(line, " ")
		trimmed := strings.TrimSpace(line)
		if trimmedRight == "--" || line == "-- " || trimmedRight == "__" {
			cut = i
			break
		}
		if sentFromRe.MatchString(trimmed) || getOutlookRe.MatchString(trimmed) || legalCapsRe.MatchString(trimmed) {
			cut = i
			break
		}
	}

	if cut == len(lines) {
		return body
	}

	cleaned := strings.TrimSpace(strings.Join(lines[:cut], "\n"))
	if len(body) >= 50 && len(cleaned) < len(body)/5 {
		return body
	}
	return cleaned
}
