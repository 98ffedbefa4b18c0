package clean

import (
	"regexp"
	"strings"
)

var (
	// "On Mon, Feb 17, 2026 at 9:30 AM Somebody <a@b> wrote:" on a single
	// line; an attribution wrapped over two lines is not matched.
	onWroteRe = regexp.MustCompile(`(?mi)^On .{0,200}?wrote:\s*$`)

	originalMessageRe = regexp.MustCompile(`(?mi)^-{2,}\s*Original Message\s*-{2,}\s*$`)

	forwardedRe = regexp.MustCompile(`(?mi)^-{2,}\s*Forwarded message\s*-{2,}\s*$`)
)

// StripQuotes removes quoted reply chains: "On <date>, <name> wrote:" blocks,
// "-----Original Message-----" tails, and contiguous '>'-prefixed lines.
// When removal would leave fewer than 10 characters of an input that had at
// least 50, the original is kept.
func StripQuotes(body string) string {
	if body == "" {
		return body
	}

	cleaned := body

	// Cut at the earliest reply-header marker; everything below is quoted.
	cutAt := len(cleaned)
	for _, re := range []*regexp.Regexp{onWroteRe, originalMessageRe, forwardedRe} {
		if loc := re.FindStringIndex(cleaned); loc != nil && loc[0] < cutAt {
			cutAt = loc[0]
		}
	}
	cleaned = cleaned[:cutAt]

	// Drop runs of '>'-prefixed lines, together with attribution lines
	// immediately above them.
	lines := strings.Split(cleaned, "\n")
	kept := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		// An "On ... wrote:" line that immediately precedes quoted lines.
		if i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), ">") &&
			onWroteRe.MatchString(trimmed) {
			continue
		}
		kept = append(kept, lines[i])
	}
	cleaned = strings.TrimSpace(strings.Join(kept, "\n"))

	if len(body) >= 50 && len(cleaned) < 10 {
		return body
	}
	return cleaned
}
