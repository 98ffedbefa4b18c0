package clean

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	imageRefLineRe = regexp.MustCompile(`(?i)^\s*\[image:[^\]]*\]\s*$`)
	bareImageURLRe = regexp.MustCompile(`(?i)^\s*https?://\S+\.(png|jpe?g|gif|webp|svg)(\?\S*)?\s*$`)
	urlRe          = regexp.MustCompile(`https?://[^\s<>"\)\]]+`)

	curlyReplacer = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
		" ", " ",
	)

	blankRunNoise = regexp.MustCompile(`\n{3,}`)
)

// trackingParams are query parameters stripped from every URL.
var trackingParams = map[string]bool{
	"correlation_id": true,
	"ref_campaign":   true,
	"ref_source":     true,
	"token":          true,
	"auto_token":     true,
	"ct":             true,
	"ec":             true,
}

// footerMarkers begin a trailing footer region when found past 40% of the body.
var footerMarkers = []string{
	"unsubscribe",
	"you are receiving this email",
	"you're receiving this email",
	"to stop receiving these emails",
	"manage your email preferences",
	"update your preferences",
	"view this email in your browser",
	"this email was sent to",
	"if you no longer wish to receive",
}

// footerLineRe matches lines that read as footer boilerplate when walking
// backward from the end of the body.
var footerLineRe = regexp.MustCompile(`(?i)^\s*(unsubscribe|privacy policy|terms of (use|service)|all rights reserved|copyright|\x{00a9}|\(c\) \d{4}|sent with |powered by |follow us|https?://\S+)\s*\S{0,40}\s*$`)

// NormalizeNoise applies Unicode NFC, straightens curly quotes, drops lone
// image-reference lines, shortens very long URLs, strips tracking query
// parameters, cuts trailing footer regions, and collapses blank-line runs.
func NormalizeNoise(body string) string {
	if body == "" {
		return body
	}

	body = norm.NFC.String(body)
	body = curlyReplacer.Replace(body)

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if imageRefLineRe.MatchString(line) || bareImageURLRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	body = strings.Join(kept, "\n")

	body = urlRe.ReplaceAllStringFunc(body, cleanURL)
	body = stripFooter(body)

	body = blankRunNoise.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

// cleanURL strips recognized tracking parameters and shortens URLs longer
// than 150 characters to origin/<first-path>/...
func cleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for param := range q {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			q.Del(param)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	out := u.String()

	if len(out) > 150 {
		first := ""
		if segs := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2); len(segs) > 0 {
			first = segs[0]
		}
		short := u.Scheme + "://" + u.Host
		if first != "" {
			short += "/" + first
		}
		return short + "/..."
	}
	return out
}

// stripFooter removes a trailing footer region using two strategies: a known
// footer-boundary marker found past 40% of the body (kept only if the cut
// preserves at least 20% of the text), then a backward walk trimming trailing
// footer-looking lines.
func stripFooter(body string) string {
	lower := strings.ToLower(body)
	start := int(float64(len(body)) * 0.4)
	cut := -1
	for _, marker := range footerMarkers {
		if idx := strings.Index(lower[start:], marker); idx >= 0 {
			pos := start + idx
			if cut < 0 || pos < cut {
				cut = pos
			}
		}
	}
	if cut > 0 && cut >= len(body)/5 {
		// Cut at the start of the marker's line.
		lineStart := strings.LastIndex(body[:cut], "\n")
		if lineStart < 0 {
			lineStart = cut
		}
		body = strings.TrimRight(body[:lineStart], "\n \t")
	}

	lines := strings.Split(body, "\n")
	end := len(lines)
	for end > 0 {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || footerLineRe.MatchString(trimmed) {
			end--
			continue
		}
		break
	}
	return strings.Join(lines[:end], "\n")
}
