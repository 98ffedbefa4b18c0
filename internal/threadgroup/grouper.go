// Package threadgroup assigns messages to threads using reply headers, with
// normalized-subject hashing as the fallback. Grouping runs per fetch batch;
// cross-batch stitching is not attempted, so a late-arriving reply whose
// ancestors were synced in an earlier batch lands in a subject-hash thread.
package threadgroup

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// headerScanLimit bounds the cheap header scan; reply headers live at the top
// of the message.
const headerScanLimit = 8 * 1024

// RawMessage is the minimal view of a fetched message the grouper needs.
type RawMessage struct {
	UID uint64
	Raw []byte
}

// Assignment records the grouping decision for one message.
type Assignment struct {
	UID       uint64
	MessageID string
	ThreadID  string
}

// Grouper groups one batch of messages into threads.
type Grouper struct {
	// byMessageID maps a seen message-id to its assigned thread id.
	byMessageID map[string]string
}

// New returns an empty Grouper.
func New() *Grouper {
	return &Grouper{byMessageID: make(map[string]string)}
}

// Seed registers known message-id → thread-id pairs before grouping, e.g.
// from a server-side UID THREAD listing. Seeded entries win over the
// subject-hash fallback but not over in-reply-to inheritance, which consults
// the same map.
func (g *Grouper) Seed(messageID, threadID string) {
	if messageID == "" || threadID == "" {
		return
	}
	if _, exists := g.byMessageID[messageID]; !exists {
		g.byMessageID[messageID] = threadID
	}
}

// Assign determines the thread for each message, in order. Earlier messages
// in the batch register their message-ids for later ones to inherit from.
func (g *Grouper) Assign(messages []RawMessage) []Assignment {
	assignments := make([]Assignment, 0, len(messages))
	for _, m := range messages {
		refs := scanHeaders(m.Raw)

		threadID := ""
		if refs.inReplyTo != "" {
			threadID = g.byMessageID[refs.inReplyTo]
		}
		if threadID == "" {
			for _, ref := range refs.references {
				if tid, ok := g.byMessageID[ref]; ok {
					threadID = tid
					break
				}
			}
		}
		if threadID == "" && refs.messageID != "" {
			threadID = g.byMessageID[refs.messageID]
		}
		if threadID == "" {
			threadID = deriveThreadID(refs.subject, refs.messageID, m.UID)
		}

		if refs.messageID != "" {
			g.byMessageID[refs.messageID] = threadID
		}

		assignments = append(assignments, Assignment{
			UID:       m.UID,
			MessageID: refs.messageID,
			ThreadID:  threadID,
		})
	}
	return assignments
}

// MessageIDOf extracts just the Message-ID from the first 8 KiB of raw bytes.
func MessageIDOf(raw []byte) string {
	return scanHeaders(raw).messageID
}

type headerRefs struct {
	messageID  string
	inReplyTo  string
	references []string
	subject    string
}

var headerLineRe = regexp.MustCompile(`(?mi)^(message-id|in-reply-to|references|subject):[ \t]*(.*(?:\r?\n[ \t]+.*)*)`)

// scanHeaders extracts threading headers from the first 8 KiB of raw bytes
// without a full MIME parse. Folded header lines are unfolded.
func scanHeaders(raw []byte) headerRefs {
	if len(raw) > headerScanLimit {
		raw = raw[:headerScanLimit]
	}
	// Headers end at the first blank line.
	head := string(raw)
	if idx := strings.Index(head, "\r\n\r\n"); idx >= 0 {
		head = head[:idx]
	} else if idx := strings.Index(head, "\n\n"); idx >= 0 {
		head = head[:idx]
	}

	var refs headerRefs
	for _, match := range headerLineRe.FindAllStringSubmatch(head, -1) {
		name := strings.ToLower(match[1])
		value := unfold(match[2])
		switch name {
		case "message-id":
			refs.messageID = trimAngles(value)
		case "in-reply-to":
			refs.inReplyTo = firstAngled(value)
		case "references":
			for _, field := range strings.Fields(value) {
				if ref := trimAngles(field); ref != "" {
					refs.references = append(refs.references, ref)
				}
			}
		case "subject":
			refs.subject = value
		}
	}
	return refs
}

func unfold(v string) string {
	v = strings.ReplaceAll(v, "\r\n", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(strings.Join(strings.Fields(v), " "))
}

func trimAngles(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

// firstAngled returns the first <...> token of a header value, or the whole
// trimmed value when there are no angle brackets.
func firstAngled(v string) string {
	if start := strings.Index(v, "<"); start >= 0 {
		if end := strings.Index(v[start:], ">"); end > 0 {
			return v[start+1 : start+end]
		}
	}
	return trimAngles(v)
}

var replyPrefixRe = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:\s*`)

// NormalizeSubject strips repeated reply/forward prefixes, lowercases, and
// trims. Used for the subject-hash fallback.
func NormalizeSubject(subject string) string {
	for {
		stripped := replyPrefixRe.ReplaceAllString(subject, "")
		if stripped == subject {
			break
		}
		subject = stripped
	}
	return strings.ToLower(strings.TrimSpace(subject))
}

// deriveThreadID hashes the normalized subject; when the subject is empty it
// hashes the message id, or the UID as the last resort.
func deriveThreadID(subject, messageID string, uid uint64) string {
	key := NormalizeSubject(subject)
	if key == "" {
		key = messageID
	}
	if key == "" {
		key = fmt.Sprintf("uid-%d", uid)
	}
	return HashID(key)
}

// HashID returns a deterministic 32-bit hash of key, rendered in base 36 and
// zero-padded to 8 characters.
func HashID(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	id := strconv.FormatUint(uint64(h.Sum32()), 36)
	for len(id) < 8 {
		id = "0" + id
	}
	return id
}
