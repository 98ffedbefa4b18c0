package smtpsender

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/testutil"
)

func waitForMessages(t *testing.T, server *testutil.TestSMTPServer, n int) []*testutil.ReceivedMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if messages := server.GetMessages(); len(messages) >= n {
			return messages
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected %d messages, got %d", n, len(server.GetMessages()))
	return nil
}

func TestSendCompose(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	t.Cleanup(server.Close)

	sender := New(server.Address, "me@example.com", "app-password", false)
	draft := &models.Draft{
		Action:  models.ActionCompose,
		To:      []string{"a@b.com"},
		Cc:      []string{"c@d.com"},
		Subject: "Hi",
		Body:    "Hello",
		Status:  models.StatusReadyToSend,
	}

	result, err := sender.Send(draft, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProviderMessageID)

	messages := waitForMessages(t, server, 1)
	msg := messages[0]
	assert.Equal(t, "me@example.com", msg.From)
	assert.ElementsMatch(t, []string{"a@b.com", "c@d.com"}, msg.To)

	data := string(msg.Data)
	assert.Contains(t, data, "Subject: Hi")
	assert.Contains(t, data, "Hello")
	assert.Contains(t, data, "Content-Type: text/plain")
}

func TestSendReplyHeaders(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	t.Cleanup(server.Close)

	sender := New(server.Address, "me@example.com", "app-password", false)
	draft := &models.Draft{
		Action:   models.ActionReply,
		ThreadID: "th1",
		To:       []string{"a@b.com"},
		Subject:  "Re: Budget",
		Body:     "Agreed.",
		Status:   models.StatusReadyToSend,
	}

	_, err := sender.Send(draft, "parent@mail.example.com", []string{"root@mail.example.com", "parent@mail.example.com"})
	require.NoError(t, err)

	messages := waitForMessages(t, server, 1)
	data := string(messages[0].Data)
	assert.Contains(t, data, "In-Reply-To: <parent@mail.example.com>")
	assert.Contains(t, data, "References: <root@mail.example.com> <parent@mail.example.com>")
}

func TestSendWithAttachment(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	attPath := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(attPath, []byte("quarterly numbers"), 0o644))

	sender := New(server.Address, "me@example.com", "app-password", false)
	draft := &models.Draft{
		Action:  models.ActionCompose,
		To:      []string{"a@b.com"},
		Subject: "Report attached",
		Body:    "See attachment.",
		Status:  models.StatusReadyToSend,
		Attachments: []models.DraftAttachment{
			{Filename: "report.txt", Path: attPath, Mime: "text/plain"},
		},
	}

	_, err := sender.Send(draft, "", nil)
	require.NoError(t, err)

	messages := waitForMessages(t, server, 1)
	data := string(messages[0].Data)
	assert.Contains(t, data, "multipart/mixed")
	assert.Contains(t, data, "report.txt")
}

func TestSendMissingAttachmentFails(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	t.Cleanup(server.Close)

	sender := New(server.Address, "me@example.com", "app-password", false)
	draft := &models.Draft{
		Action:  models.ActionCompose,
		To:      []string{"a@b.com"},
		Subject: "Broken",
		Body:    "x",
		Status:  models.StatusReadyToSend,
		Attachments: []models.DraftAttachment{
			{Filename: "gone.bin", Path: "/nonexistent/gone.bin"},
		},
	}

	_, err := sender.Send(draft, "", nil)
	require.Error(t, err)
	assert.Empty(t, server.GetMessages())
}

func TestSendAppendsSignature(t *testing.T) {
	server := testutil.NewTestSMTPServer(t)
	t.Cleanup(server.Close)

	sender := New(server.Address, "me@example.com", "app-password", false)
	sender.SetSignature("Jane Doe\nVP of Things")

	draft := &models.Draft{
		Action:  models.ActionCompose,
		To:      []string{"a@b.com"},
		Subject: "Hi",
		Body:    "Hello",
		Status:  models.StatusReadyToSend,
	}

	_, err := sender.Send(draft, "", nil)
	require.NoError(t, err)

	messages := waitForMessages(t, server, 1)
	assert.Contains(t, string(messages[0].Data), "Jane Doe")
}

func TestConnectionRefusedSurfaces(t *testing.T) {
	sender := New("127.0.0.1:1", "me@example.com", "pw", false)
	draft := &models.Draft{
		Action:  models.ActionCompose,
		To:      []string{"a@b.com"},
		Subject: "Hi",
		Body:    "Hello",
		Status:  models.StatusReadyToSend,
	}

	_, err := sender.Send(draft, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
