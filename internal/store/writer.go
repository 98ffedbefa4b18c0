// Package store persists the on-disk corpus: thread.json, message Markdown
// files, attachments, and the JSONL indexes. All writes are atomic; index
// upserts are serialized per writer.
package store

import (
	"fmt"
	"sync"

	"github.com/vdavid/maildeck/internal/fsatomic"
	"github.com/vdavid/maildeck/internal/mimeparse"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

// MaxAttachmentBytes is the upper bound for attachment bodies. Larger parts
// are recorded with skipped=true and no bytes on disk.
const MaxAttachmentBytes = 10 * 1024 * 1024

// Writer persists threads, messages, attachments, and indexes for accounts
// under one base directory.
type Writer struct {
	resolver *paths.Resolver

	// indexMu serializes the JSONL index reads and rewrites made through this
	// Writer; only sync passes touch the index files.
	indexMu sync.Mutex
}

// NewWriter returns a Writer rooted at the resolver's base.
func NewWriter(resolver *paths.Resolver) *Writer {
	return &Writer{resolver: resolver}
}

// WriteThreadMeta ensures the thread directory exists and writes thread.json.
func (w *Writer) WriteThreadMeta(account string, meta *models.ThreadMeta) error {
	path := w.resolver.ThreadMetaFile(account, meta.ID)
	if err := fsatomic.WriteJSON(path, meta); err != nil {
		return fmt.Errorf("failed to write thread meta for %s: %w", meta.ID, err)
	}
	return nil
}

// WriteMessage renders frontmatter plus cleaned body into the thread's
// messages directory and returns the filename. Writing the same message twice
// is idempotent: same name, same bytes.
func (w *Writer) WriteMessage(account, threadID string, fm *models.Frontmatter, body string) (string, error) {
	filename := MessageFilename(fm.Date, fm.MessageID)
	path := w.resolver.MessageFile(account, threadID, filename)

	content := RenderFrontmatter(fm) + "\n" + body + "\n"
	if err := fsatomic.WriteFile(path, []byte(content)); err != nil {
		return "", fmt.Errorf("failed to write message %s: %w", filename, err)
	}
	return filename, nil
}

// WriteAttachments persists attachment bytes under the thread's attachments
// directory. Parts over MaxAttachmentBytes are skipped; the returned records
// carry the skipped flag for thread.json.
func (w *Writer) WriteAttachments(account, threadID string, parts []mimeparse.ParsedAttachment) ([]models.Attachment, error) {
	records := make([]models.Attachment, 0, len(parts))
	for _, part := range parts {
		record := models.Attachment{
			Filename:  paths.SanitizeName(part.Filename),
			MimeType:  part.ContentType,
			SizeBytes: part.Size,
		}
		if part.Size > MaxAttachmentBytes {
			record.Skipped = true
			records = append(records, record)
			continue
		}

		path := w.resolver.AttachmentFile(account, threadID, part.Filename)
		if err := fsatomic.WriteFile(path, part.Content); err != nil {
			return records, fmt.Errorf("failed to write attachment %s: %w", record.Filename, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// UpsertThreadIndex replaces-or-appends the thread's entry in threads.jsonl,
// keyed by id, keeping the file sorted by last_date descending.
func (w *Writer) UpsertThreadIndex(account string, entry *models.ThreadIndexEntry) error {
	w.indexMu.Lock()
	defer w.indexMu.Unlock()

	path := w.resolver.ThreadsIndexFile(account)
	opts := fsatomic.UpsertOptions{SortByField: "last_date"}
	if err := fsatomic.UpsertJSONL(path, entry, "id", opts); err != nil {
		return fmt.Errorf("failed to upsert thread index: %w", err)
	}
	return nil
}

// UpsertContact replaces-or-appends a contact in contacts.jsonl, keyed by
// email.
func (w *Writer) UpsertContact(account string, entry *models.ContactEntry) error {
	w.indexMu.Lock()
	defer w.indexMu.Unlock()

	path := w.resolver.ContactsIndexFile(account)
	if err := fsatomic.UpsertJSONL(path, entry, "email", fsatomic.UpsertOptions{}); err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

// ReadContact returns the stored contact entry for an email, or nil.
func (w *Writer) ReadContact(account, email string) (*models.ContactEntry, error) {
	w.indexMu.Lock()
	defer w.indexMu.Unlock()

	records, err := fsatomic.ReadJSONL(w.resolver.ContactsIndexFile(account))
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if addr, ok := rec["email"].(string); ok && addr == email {
			var entry models.ContactEntry
			if err := remarshal(rec, &entry); err != nil {
				return nil, err
			}
			return &entry, nil
		}
	}
	return nil, nil
}
