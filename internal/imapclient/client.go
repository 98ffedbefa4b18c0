// Package imapclient wraps an authenticated IMAP connection with the fetch
// operations the sync engine needs. One connection serves one fetch pass;
// connections are not pooled.
package imapclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// DefaultAddr is the Gmail IMAP endpoint.
const DefaultAddr = "imap.gmail.com:993"

// AllMailbox is the Gmail all-mail mailbox. The name is locale-dependent;
// SelectAllMail falls back to the \All special-use attribute.
const AllMailbox = "[Gmail]/All Mail"

// connectTimeout bounds the TCP dial.
const connectTimeout = 60 * time.Second

// ErrAuth marks an authentication failure; the scheduler does not retry it.
var ErrAuth = errors.New("authentication failed")

// Client is an IMAP connection bound to one account.
type Client struct {
	addr     string
	username string
	password string
	useTLS   bool

	mu sync.Mutex
	c  *client.Client

	// mailboxMu serializes mailbox operations per mailbox path.
	mailboxMu   sync.Mutex
	mailboxLock map[string]*sync.Mutex
}

// New returns an unconnected client. useTLS is true for production; tests
// connect to a plaintext in-memory server.
func New(addr, username, password string, useTLS bool) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		addr:        addr,
		username:    username,
		password:    password,
		useTLS:      useTLS,
		mailboxLock: make(map[string]*sync.Mutex),
	}
}

// Connect dials and authenticates. Calling Connect on a connected client is a
// no-op.
func (cl *Client) Connect() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.c != nil {
		return nil
	}

	dialer := &net.Dialer{Timeout: connectTimeout}

	var c *client.Client
	var err error
	if cl.useTLS {
		c, err = client.DialWithDialerTLS(dialer, cl.addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, cl.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", cl.addr, err)
	}

	if err := c.Login(cl.username, cl.password); err != nil {
		_ = c.Logout()
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}

	cl.c = c
	return nil
}

// Disconnect logs out and drops the connection. Tolerant of an already-closed
// connection.
func (cl *Client) Disconnect() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.c == nil {
		return
	}
	_ = cl.c.Logout()
	cl.c = nil
}

// conn returns the live connection or an error when not connected.
func (cl *Client) conn() (*client.Client, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.c == nil {
		return nil, fmt.Errorf("not connected")
	}
	return cl.c, nil
}

// lockMailbox acquires the exclusive per-mailbox lock and returns the release
// function. Callers must release on every exit path.
func (cl *Client) lockMailbox(mailbox string) func() {
	cl.mailboxMu.Lock()
	lock, ok := cl.mailboxLock[mailbox]
	if !ok {
		lock = &sync.Mutex{}
		cl.mailboxLock[mailbox] = lock
	}
	cl.mailboxMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ListMailboxes lists all mailbox paths on the server.
func (cl *Client) ListMailboxes() ([]string, error) {
	c, err := cl.conn()
	if err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return names, nil
}

// SelectAllMail selects the all-mail mailbox: the configured name first, then
// any mailbox advertising the \All special-use attribute, then INBOX.
func (cl *Client) SelectAllMail() (string, error) {
	c, err := cl.conn()
	if err != nil {
		return "", err
	}

	if _, err := c.Select(AllMailbox, true); err == nil {
		return AllMailbox, nil
	}

	if name := cl.findSpecialUseAll(c); name != "" {
		if _, err := c.Select(name, true); err == nil {
			return name, nil
		}
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return "", fmt.Errorf("failed to select a mailbox to sync: %w", err)
	}
	return "INBOX", nil
}

// findSpecialUseAll scans the mailbox listing for the \All attribute.
func (cl *Client) findSpecialUseAll(c *client.Client) string {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	name := ""
	for m := range mailboxes {
		for _, attr := range m.Attributes {
			if attr == `\All` {
				name = m.Name
			}
		}
	}
	if err := <-done; err != nil {
		return ""
	}
	return name
}
