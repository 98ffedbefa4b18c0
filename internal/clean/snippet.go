package clean

import "strings"

// snippetMaxLen caps snippet length in the thread index.
const snippetMaxLen = 300

// Snippet collapses whitespace and truncates at a word boundary to at most
// 300 characters, appending an ellipsis when truncated. The word-boundary cut
// is only taken when it preserves at least 70% of the cap.
func Snippet(body string) string {
	collapsed := strings.Join(strings.Fields(body), " ")
	if len(collapsed) <= snippetMaxLen {
		return collapsed
	}

	cut := collapsed[:snippetMaxLen]
	if idx := strings.LastIndex(cut, " "); idx >= snippetMaxLen*7/10 {
		cut = cut[:idx]
	}
	return cut + "..."
}
