// Package testutil provides in-memory IMAP and SMTP servers for tests.
package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend.
// The memory backend creates a default user with username "username" and
// password "password".
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	cleanup := func() {
		_ = s.Close()
	}

	return &TestIMAPServer{
		Server:   s,
		Address:  addr,
		Backend:  be,
		cleanup:  cleanup,
		username: "username",
		password: "password",
	}
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	cleanup := func() {
		_ = client.Logout()
	}

	return client, cleanup
}

// EnsureMailbox ensures the named mailbox exists for the default user.
func (s *TestIMAPServer) EnsureMailbox(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(name, false); err != nil {
		if err := client.Create(name); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
		if _, err := client.Select(name, false); err != nil {
			t.Fatalf("Failed to select %s: %v", name, err)
		}
	}
}

// AddRawMessage appends raw RFC 822 bytes to the mailbox with the given flags
// and returns the message's UID.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, mailbox string, raw []byte, flags []string) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(mailbox, false); err != nil {
		t.Fatalf("Failed to select mailbox: %v", err)
	}

	if err := client.Append(mailbox, flags, time.Now(), strings.NewReader(string(raw))); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	status, err := client.Select(mailbox, false)
	if err != nil {
		t.Fatalf("Failed to reselect mailbox: %v", err)
	}
	return status.UidNext - 1
}

// AddMessage builds a simple plain-text message and appends it, returning the
// UID found by Message-ID search.
func (s *TestIMAPServer) AddMessage(t *testing.T, mailbox, messageID, subject, from, to string, sentAt time.Time) uint32 {
	t.Helper()

	raw := BuildMessage(messageID, subject, from, to, sentAt, "Test message body.", nil)
	_ = s.AddRawMessage(t, mailbox, raw, []string{imap.SeenFlag})

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(mailbox, false); err != nil {
		t.Fatalf("Failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", messageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}
	return uids[0]
}

// BuildMessage renders a minimal RFC 822 message. extraHeaders lines are
// inserted verbatim before the blank separator.
func BuildMessage(messageID, subject, from, to string, sentAt time.Time, body string, extraHeaders []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", strings.Trim(messageID, "<>"))
	fmt.Fprintf(&b, "Date: %s\r\n", sentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	for _, h := range extraHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
