// Package paths maps (base, account, thread, message) to filesystem locations.
// Account, thread, message, attachment, index and log paths are built here.
// The outbox package joins draft filenames onto the outbox, sent and failed
// directories it gets from here itself.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDirName is the directory under the user's home that holds the corpus.
const DefaultDirName = ".maildeck"

// Resolver computes all corpus paths from a single base directory.
// The zero value is not usable; call New or NewWithBase.
type Resolver struct {
	base string
}

// New returns a Resolver rooted at $HOME/.maildeck.
func New() (*Resolver, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Resolver{base: filepath.Join(home, DefaultDirName)}, nil
}

// NewWithBase returns a Resolver rooted at an explicit base directory.
func NewWithBase(base string) *Resolver {
	return &Resolver{base: base}
}

// Base returns the corpus root.
func (r *Resolver) Base() string { return r.base }

// ConfigFile returns BASE/config.json.
func (r *Resolver) ConfigFile() string { return filepath.Join(r.base, "config.json") }

// PIDFile returns BASE/daemon.pid.
func (r *Resolver) PIDFile() string { return filepath.Join(r.base, "daemon.pid") }

// LogFile returns BASE/logs/sync.log.
func (r *Resolver) LogFile() string { return filepath.Join(r.base, "logs", "sync.log") }

// AccountDir returns the subtree owned by one account.
func (r *Resolver) AccountDir(email string) string {
	return filepath.Join(r.base, "accounts", SanitizeName(email))
}

// AccountStateFile returns accounts/<email>/account.json.
func (r *Resolver) AccountStateFile(email string) string {
	return filepath.Join(r.AccountDir(email), "account.json")
}

// SignatureFile returns accounts/<email>/signature.txt.
func (r *Resolver) SignatureFile(email string) string {
	return filepath.Join(r.AccountDir(email), "signature.txt")
}

// ThreadsIndexFile returns accounts/<email>/index/threads.jsonl.
func (r *Resolver) ThreadsIndexFile(email string) string {
	return filepath.Join(r.AccountDir(email), "index", "threads.jsonl")
}

// ContactsIndexFile returns accounts/<email>/index/contacts.jsonl.
func (r *Resolver) ContactsIndexFile(email string) string {
	return filepath.Join(r.AccountDir(email), "index", "contacts.jsonl")
}

// ThreadDir returns accounts/<email>/threads/<tid>.
func (r *Resolver) ThreadDir(email, threadID string) string {
	return filepath.Join(r.AccountDir(email), "threads", SanitizeName(threadID))
}

// ThreadMetaFile returns the thread.json path for a thread.
func (r *Resolver) ThreadMetaFile(email, threadID string) string {
	return filepath.Join(r.ThreadDir(email, threadID), "thread.json")
}

// MessagesDir returns the messages directory of a thread.
func (r *Resolver) MessagesDir(email, threadID string) string {
	return filepath.Join(r.ThreadDir(email, threadID), "messages")
}

// MessageFile returns the path of one message file inside a thread.
func (r *Resolver) MessageFile(email, threadID, filename string) string {
	return filepath.Join(r.MessagesDir(email, threadID), SanitizeName(filename))
}

// AttachmentsDir returns the attachments directory of a thread.
func (r *Resolver) AttachmentsDir(email, threadID string) string {
	return filepath.Join(r.ThreadDir(email, threadID), "attachments")
}

// AttachmentFile returns the path of one attachment inside a thread.
func (r *Resolver) AttachmentFile(email, threadID, filename string) string {
	return filepath.Join(r.AttachmentsDir(email, threadID), SanitizeName(filename))
}

// OutboxDir returns accounts/<email>/outbox.
func (r *Resolver) OutboxDir(email string) string {
	return filepath.Join(r.AccountDir(email), "outbox")
}

// SentDir returns accounts/<email>/sent.
func (r *Resolver) SentDir(email string) string {
	return filepath.Join(r.AccountDir(email), "sent")
}

// FailedDir returns accounts/<email>/failed.
func (r *Resolver) FailedDir(email string) string {
	return filepath.Join(r.AccountDir(email), "failed")
}

// reservedChars are replaced with underscores in on-disk names.
const reservedChars = `/\:*?"<>|`

// SanitizeName makes an arbitrary string safe to use as a single path element.
// Reserved characters, embedded "..", and a leading "-" are replaced with "_".
// An empty name becomes "attachment".
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "attachment"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(reservedChars, r) || r < 0x20 {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	out = strings.ReplaceAll(out, "..", "_")
	if strings.HasPrefix(out, "-") {
		out = "_" + out[1:]
	}
	if out == "" || out == "." {
		return "attachment"
	}
	return out
}
