package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/maildeck/internal/fsatomic"
	"github.com/vdavid/maildeck/internal/imapclient"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
	"github.com/vdavid/maildeck/internal/store"
	"github.com/vdavid/maildeck/internal/testutil"
)

const testAccount = "me@example.com"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves canned batches instead of a live IMAP connection.
type fakeFetcher struct {
	recent []imapclient.FetchedMessage
	since  []imapclient.FetchedMessage
	unread []imapclient.FetchedMessage

	sinceCalls []uint64
}

func (f *fakeFetcher) Connect() error { return nil }
func (f *fakeFetcher) Disconnect()    {}
func (f *fakeFetcher) FetchRecent(days, max int) ([]imapclient.FetchedMessage, error) {
	return f.recent, nil
}
func (f *fakeFetcher) FetchInbox(days, max int) ([]imapclient.FetchedMessage, error) {
	return f.recent, nil
}
func (f *fakeFetcher) FetchSince(lastUID uint64) ([]imapclient.FetchedMessage, error) {
	f.sinceCalls = append(f.sinceCalls, lastUID)
	var out []imapclient.FetchedMessage
	for _, m := range f.since {
		if m.UID > lastUID {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeFetcher) FetchUnread() ([]imapclient.FetchedMessage, error) {
	return f.unread, nil
}
func (f *fakeFetcher) ThreadRelations() ([]imapclient.ThreadRelation, error) {
	return nil, fmt.Errorf("THREAD not supported")
}

func fetched(uid uint64, messageID, subject, from, body string, extraHeaders []string) imapclient.FetchedMessage {
	sentAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Minute)
	raw := testutil.BuildMessage(messageID, subject, from, testAccount, sentAt, body, extraHeaders)
	return imapclient.FetchedMessage{UID: uid, Raw: raw, Flags: []string{`\Seen`}}
}

func newTestOps(t *testing.T, fetcher Fetcher) (*Ops, *paths.Resolver) {
	t.Helper()
	resolver := paths.NewWithBase(t.TempDir())
	return NewOps(fetcher, store.NewWriter(resolver), testAccount, discardLogger()), resolver
}

func TestFullSyncEmptyMailbox(t *testing.T) {
	ops, resolver := newTestOps(t, &fakeFetcher{})

	result, err := ops.FullSync(context.Background(), 30, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ThreadsTouched)
	assert.Equal(t, uint64(0), result.LastUID)

	_, statErr := os.Stat(resolver.ThreadsIndexFile(testAccount))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFullSyncWritesCorpus(t *testing.T) {
	fetcher := &fakeFetcher{
		recent: []imapclient.FetchedMessage{
			fetched(1, "root@x", "Budget planning", "Alice <alice@example.com>", "Initial proposal.", nil),
			fetched(2, "reply@x", "Re: Budget planning", "Bob <bob@example.com>", "Looks good to me.",
				[]string{"In-Reply-To: <root@x>", "References: <root@x>"}),
			fetched(3, "other@x", "Lunch?", "Carol <carol@example.com>", "Tacos on Friday?", nil),
		},
	}
	ops, resolver := newTestOps(t, fetcher)

	result, err := ops.FullSync(context.Background(), 30, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ThreadsTouched)
	assert.Equal(t, uint64(3), result.LastUID)

	// Index has exactly one entry per thread directory on disk.
	records, err := fsatomic.ReadJSONL(resolver.ThreadsIndexFile(testAccount))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	threadsDir := filepath.Join(resolver.AccountDir(testAccount), "threads")
	entries, err := os.ReadDir(threadsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	indexIDs := map[string]bool{}
	for _, rec := range records {
		indexIDs[rec["id"].(string)] = true
	}
	for _, entry := range entries {
		assert.True(t, indexIDs[entry.Name()], "thread dir %s missing from index", entry.Name())

		var meta models.ThreadMeta
		require.NoError(t, fsatomic.ReadJSON(filepath.Join(threadsDir, entry.Name(), "thread.json"), &meta))
		assert.NotEmpty(t, meta.Subject)
		assert.Positive(t, meta.MessageCount)
	}

	// The budget thread holds both messages.
	var budget *models.ThreadMeta
	for _, entry := range entries {
		var meta models.ThreadMeta
		require.NoError(t, fsatomic.ReadJSON(filepath.Join(threadsDir, entry.Name(), "thread.json"), &meta))
		if meta.Subject == "Budget planning" {
			budget = &meta
		}
	}
	require.NotNil(t, budget)
	assert.Equal(t, 2, budget.MessageCount)

	messages, err := os.ReadDir(resolver.MessagesDir(testAccount, budget.ID))
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestFullSyncRecordsContacts(t *testing.T) {
	fetcher := &fakeFetcher{
		recent: []imapclient.FetchedMessage{
			fetched(1, "a@x", "Hi", "Peer One <peer@example.com>", "hello", nil),
			fetched(2, "b@x", "Self note", fmt.Sprintf("Me <%s>", testAccount), "note to self", nil),
		},
	}
	ops, resolver := newTestOps(t, fetcher)

	_, err := ops.FullSync(context.Background(), 30, 0)
	require.NoError(t, err)

	records, err := fsatomic.ReadJSONL(resolver.ContactsIndexFile(testAccount))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "peer@example.com", records[0]["email"])
	assert.Equal(t, "Peer One", records[0]["name"])
}

func TestIncrementalSyncAdvancesHighWaterMark(t *testing.T) {
	fetcher := &fakeFetcher{
		since: []imapclient.FetchedMessage{
			fetched(101, "m101@x", "One", "a@example.com", "first", nil),
			fetched(102, "m102@x", "Two", "b@example.com", "second", nil),
			fetched(103, "m103@x", "Three", "c@example.com", "third", nil),
		},
	}
	ops, _ := newTestOps(t, fetcher)

	result, err := ops.IncrementalSync(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(103), result.LastUID)
	assert.GreaterOrEqual(t, result.ThreadsTouched, 1)
	assert.LessOrEqual(t, result.ThreadsTouched, 3)

	// Re-running with no new mail keeps the mark where it was.
	again, err := ops.IncrementalSync(context.Background(), 103)
	require.NoError(t, err)
	assert.Equal(t, uint64(103), again.LastUID)
	assert.Equal(t, 0, again.ThreadsTouched)
}

func TestUnreadSyncDoesNotAdvanceMark(t *testing.T) {
	fetcher := &fakeFetcher{
		unread: []imapclient.FetchedMessage{
			fetched(55, "u@x", "Unread", "a@example.com", "unseen body", nil),
		},
	}
	ops, _ := newTestOps(t, fetcher)

	result, err := ops.UnreadSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.LastUID)
	assert.Equal(t, 1, result.ThreadsTouched)
}

func TestProcessBatchCancellation(t *testing.T) {
	fetcher := &fakeFetcher{
		recent: []imapclient.FetchedMessage{
			fetched(1, "a@x", "S1", "a@example.com", "b1", nil),
		},
	}
	ops, _ := newTestOps(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ops.FullSync(ctx, 30, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMessageBodiesAreCleaned(t *testing.T) {
	body := "That sounds reasonable.\r\n\r\nOn Mon, Feb 17, 2026 at 9:30 AM You <you@gmail.com> wrote:\r\n> old quoted text here\r\n"
	fetcher := &fakeFetcher{
		recent: []imapclient.FetchedMessage{
			fetched(1, "q@x", "Numbers", "a@example.com", body, nil),
		},
	}
	ops, resolver := newTestOps(t, fetcher)

	_, err := ops.FullSync(context.Background(), 30, 0)
	require.NoError(t, err)

	records, err := fsatomic.ReadJSONL(resolver.ThreadsIndexFile(testAccount))
	require.NoError(t, err)
	require.Len(t, records, 1)
	threadID := records[0]["id"].(string)

	entries, err := os.ReadDir(resolver.MessagesDir(testAccount, threadID))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(resolver.MessageFile(testAccount, threadID, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "That sounds reasonable.")
	assert.NotContains(t, string(content), "old quoted text")
}

func TestThreadIndexSnippetAndSort(t *testing.T) {
	fetcher := &fakeFetcher{
		recent: []imapclient.FetchedMessage{
			fetched(1, "s1@x", "First thread", "a@example.com", "Alpha body text.", nil),
			fetched(2, "s2@x", "Second thread", "b@example.com", "Beta body text.", nil),
		},
	}
	ops, resolver := newTestOps(t, fetcher)

	_, err := ops.FullSync(context.Background(), 30, 0)
	require.NoError(t, err)

	data, err := os.ReadFile(resolver.ThreadsIndexFile(testAccount))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	// UID 2 has the later date, so it sorts first.
	assert.Contains(t, lines[0], "Second thread")
	assert.Contains(t, lines[0], "Beta body text.")
}
