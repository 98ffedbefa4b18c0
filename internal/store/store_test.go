package store

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vdavid/maildeck/internal/mimeparse"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

const testAccount = "me@example.com"

func newTestWriter(t *testing.T) (*Writer, *paths.Resolver) {
	t.Helper()
	resolver := paths.NewWithBase(t.TempDir())
	return NewWriter(resolver), resolver
}

func TestMessageFilenameRoundTrip(t *testing.T) {
	tests := []struct {
		date time.Time
		id   string
	}{
		{time.Date(2026, 2, 17, 9, 30, 0, 0, time.UTC), "abc123"},
		{time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC), "x"},
		{time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), "19425"},
	}

	for _, tt := range tests {
		name := MessageFilename(tt.date, tt.id)
		date, id, err := ParseMessageFilename(name)
		require.NoError(t, err)
		assert.Equal(t, tt.date, date)
		assert.Equal(t, tt.id, id)
	}
}

func TestMessageFilenameSortsChronologically(t *testing.T) {
	early := MessageFilename(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), "b")
	late := MessageFilename(time.Date(2026, 2, 5, 8, 0, 0, 0, time.UTC), "a")
	assert.Less(t, early, late)
}

func TestParseMessageFilenameRejectsGarbage(t *testing.T) {
	for _, name := range []string{"notamessage.md", "20260101T000000Z.md", "file.txt"} {
		_, _, err := ParseMessageFilename(name)
		assert.Error(t, err, "name %s", name)
	}
}

func TestRenderFrontmatterQuoting(t *testing.T) {
	fm := &models.Frontmatter{
		ID:              "t1/m1",
		MessageID:       "m1",
		ThreadID:        "t1",
		RFC822MessageID: "m1@mail.example.com",
		InReplyTo:       "m0@mail.example.com",
		References:      []string{"m0@mail.example.com"},
		From:            models.Address{Addr: "a@example.com", Name: "Smith, Jane: CEO"},
		To:              []models.Address{{Addr: "b@example.com", Name: "-Bob [ops]"}},
		Date:            time.Date(2026, 2, 17, 9, 30, 0, 0, time.UTC),
		UID:             42,
	}

	rendered := RenderFrontmatter(fm)

	assert.True(t, strings.HasPrefix(rendered, "---\n"))
	assert.True(t, strings.HasSuffix(rendered, "---\n"))
	assert.Contains(t, rendered, `name: "Smith, Jane: CEO"`)
	assert.Contains(t, rendered, `name: "-Bob [ops]"`)
	assert.Contains(t, rendered, `date: "2026-02-17T09:30:00Z"`)
	assert.Contains(t, rendered, "uid: 42")

	// The block must round-trip through a real YAML parser.
	block := strings.TrimSuffix(strings.TrimPrefix(rendered, "---\n"), "---\n")
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(block), &parsed))
	assert.Equal(t, "t1/m1", parsed["id"])
	from := parsed["from"].(map[string]any)
	assert.Equal(t, "Smith, Jane: CEO", from["name"])
	assert.Equal(t, uint64(42), uint64(parsed["uid"].(int)))
}

func TestWriteMessageIdempotent(t *testing.T) {
	w, resolver := newTestWriter(t)

	fm := &models.Frontmatter{
		ID:        "th/m9",
		MessageID: "m9",
		ThreadID:  "th",
		From:      models.Address{Addr: "a@example.com"},
		Date:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	first, err := w.WriteMessage(testAccount, "th", fm, "hello world")
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(resolver.MessageFile(testAccount, "th", first))
	require.NoError(t, err)

	second, err := w.WriteMessage(testAccount, "th", fm, "hello world")
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(resolver.MessageFile(testAccount, "th", second))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstBytes, secondBytes)
	assert.Equal(t, "20260301T120000Z__msgm9.md", first)
}

func TestWriteMessageTimestampMatchesFrontmatter(t *testing.T) {
	w, resolver := newTestWriter(t)

	date := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	fm := &models.Frontmatter{MessageID: "z", ThreadID: "th", Date: date}

	name, err := w.WriteMessage(testAccount, "th", fm, "body")
	require.NoError(t, err)

	parsedDate, _, err := ParseMessageFilename(name)
	require.NoError(t, err)
	assert.Equal(t, date, parsedDate)

	content, err := os.ReadFile(resolver.MessageFile(testAccount, "th", name))
	require.NoError(t, err)
	assert.Contains(t, string(content), `date: "2026-05-06T07:08:09Z"`)
}

func TestWriteAttachmentsOversizeSkipped(t *testing.T) {
	w, resolver := newTestWriter(t)

	big := mimeparse.ParsedAttachment{
		Filename:    "huge.bin",
		ContentType: "application/octet-stream",
		Size:        12 * 1024 * 1024,
	}
	small := mimeparse.ParsedAttachment{
		Filename:    "note.txt",
		ContentType: "text/plain",
		Content:     []byte("tiny"),
		Size:        4,
	}

	records, err := w.WriteAttachments(testAccount, "th", []mimeparse.ParsedAttachment{big, small})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.True(t, records[0].Skipped)
	assert.False(t, records[1].Skipped)

	_, err = os.Stat(resolver.AttachmentFile(testAccount, "th", "huge.bin"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(resolver.AttachmentFile(testAccount, "th", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(data))
}

func TestUpsertThreadIndexSortedDescending(t *testing.T) {
	w, resolver := newTestWriter(t)

	dates := []time.Time{
		time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}
	for i, d := range dates {
		entry := &models.ThreadIndexEntry{
			ID:       []string{"t-a", "t-b", "t-c"}[i],
			Subject:  "s",
			LastDate: d,
		}
		require.NoError(t, w.UpsertThreadIndex(testAccount, entry))
	}

	data, err := os.ReadFile(resolver.ThreadsIndexFile(testAccount))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "2026-02-20")
	assert.Contains(t, lines[1], "2026-02-15")
	assert.Contains(t, lines[2], "2026-02-10")
}

func TestUpsertContactAndReadBack(t *testing.T) {
	w, _ := newTestWriter(t)

	entry := &models.ContactEntry{
		Email:     "peer@example.com",
		Name:      "Peer",
		FirstSeen: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		MsgCount:  3,
	}
	require.NoError(t, w.UpsertContact(testAccount, entry))

	got, err := w.ReadContact(testAccount, "peer@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Peer", got.Name)
	assert.Equal(t, 3, got.MsgCount)

	missing, err := w.ReadContact(testAccount, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestMessageFrontmatter(t *testing.T) {
	w, resolver := newTestWriter(t)

	older := &models.Frontmatter{
		MessageID:       "m1",
		ThreadID:        "th",
		RFC822MessageID: "m1@x",
		Date:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &models.Frontmatter{
		MessageID:       "m2",
		ThreadID:        "th",
		RFC822MessageID: "m2@x",
		InReplyTo:       "m1@x",
		References:      []string{"m1@x"},
		Date:            time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	_, err := w.WriteMessage(testAccount, "th", older, "first")
	require.NoError(t, err)
	_, err = w.WriteMessage(testAccount, "th", newer, "second")
	require.NoError(t, err)

	fm, err := LatestMessageFrontmatter(resolver, testAccount, "th")
	require.NoError(t, err)
	assert.Equal(t, "m2@x", fm.RFC822MessageID)
	assert.Equal(t, []string{"m1@x"}, fm.References)
	assert.Equal(t, "m1@x", fm.InReplyTo)
}
