package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vdavid/maildeck/internal/fsatomic"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

// ReadThreadMeta loads a thread.json from disk.
func ReadThreadMeta(resolver *paths.Resolver, account, threadID string) (*models.ThreadMeta, error) {
	var meta models.ThreadMeta
	if err := fsatomic.ReadJSON(resolver.ThreadMetaFile(account, threadID), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LatestMessageFrontmatter scans a thread's messages directory and parses the
// frontmatter of the chronologically newest message. Used to thread replies.
func LatestMessageFrontmatter(resolver *paths.Resolver, account, threadID string) (*models.Frontmatter, error) {
	dir := resolver.MessagesDir(account, threadID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("thread %s has no messages", threadID)
	}
	// Timestamp-prefixed names sort chronologically.
	sort.Strings(names)
	newest := names[len(names)-1]

	data, err := os.ReadFile(resolver.MessageFile(account, threadID, newest))
	if err != nil {
		return nil, err
	}
	return parseFrontmatter(string(data))
}

// parseFrontmatter reads the YAML block of a message file into a Frontmatter.
// Only the fields replies need (ids, references, subject-adjacent headers)
// are decoded; the hand-rendered block keeps them on single lines.
func parseFrontmatter(content string) (*models.Frontmatter, error) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return nil, fmt.Errorf("message has no frontmatter")
	}
	block, _, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, fmt.Errorf("message frontmatter is unterminated")
	}

	fm := &models.Frontmatter{}
	var inReferences bool
	for _, line := range strings.Split(block, "\n") {
		if inReferences {
			if item, ok := strings.CutPrefix(line, "  - "); ok {
				fm.References = append(fm.References, unquoteScalar(item))
				continue
			}
			inReferences = false
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.HasPrefix(line, " ") {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "id":
			fm.ID = unquoteScalar(value)
		case "message_id":
			fm.MessageID = unquoteScalar(value)
		case "thread_id":
			fm.ThreadID = unquoteScalar(value)
		case "rfc822_message_id":
			fm.RFC822MessageID = unquoteScalar(value)
		case "in_reply_to":
			fm.InReplyTo = unquoteScalar(value)
		case "references":
			if value == "" {
				inReferences = true
			}
		}
	}
	return fm, nil
}

// unquoteScalar undoes yamlScalar's double-quoting.
func unquoteScalar(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		var out string
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
		return strings.Trim(v, `"`)
	}
	return v
}

// remarshal converts a generic JSONL record into a typed struct.
func remarshal(rec map[string]any, v any) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
