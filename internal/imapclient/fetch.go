package imapclient

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
)

// FetchedMessage is one message pulled from the server: its UID, the raw
// RFC 822 source, and the server flags.
type FetchedMessage struct {
	UID   uint64
	Raw   []byte
	Flags []string
}

// FetchRecent fetches messages from the all-mail mailbox received within the
// last days days. When max is positive, only the last max UIDs are fetched.
func (cl *Client) FetchRecent(days, max int) ([]FetchedMessage, error) {
	unlock := cl.lockMailbox(AllMailbox)
	defer unlock()

	if _, err := cl.SelectAllMail(); err != nil {
		return nil, err
	}
	return cl.fetchSinceDate(days, max)
}

// FetchInbox fetches recent messages from INBOX only.
func (cl *Client) FetchInbox(days, max int) ([]FetchedMessage, error) {
	unlock := cl.lockMailbox("INBOX")
	defer unlock()

	c, err := cl.conn()
	if err != nil {
		return nil, err
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	return cl.fetchSinceDate(days, max)
}

// fetchSinceDate searches SINCE the cutoff in the selected mailbox and
// fetches the matching sources.
func (cl *Client) fetchSinceDate(days, max int) ([]FetchedMessage, error) {
	c, err := cl.conn()
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().AddDate(0, 0, -days)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	if max > 0 && len(uids) > max {
		uids = uids[len(uids)-max:]
	}
	return cl.fetchByUIDs(uids)
}

// FetchSince fetches messages with UID greater than lastUID from the all-mail
// mailbox. The UID range the server returns is re-filtered client-side
// because servers may include the boundary UID.
func (cl *Client) FetchSince(lastUID uint64) ([]FetchedMessage, error) {
	unlock := cl.lockMailbox(AllMailbox)
	defer unlock()

	if _, err := cl.SelectAllMail(); err != nil {
		return nil, err
	}

	c, err := cl.conn()
	if err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(uint32(lastUID+1), 0)

	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqSet

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search since UID %d: %w", lastUID, err)
	}

	filtered := uids[:0]
	for _, uid := range uids {
		if uint64(uid) > lastUID {
			filtered = append(filtered, uid)
		}
	}
	return cl.fetchByUIDs(filtered)
}

// FetchUnread fetches all unseen messages from INBOX, with no date or count
// bound.
func (cl *Client) FetchUnread() ([]FetchedMessage, error) {
	unlock := cl.lockMailbox("INBOX")
	defer unlock()

	c, err := cl.conn()
	if err != nil {
		return nil, err
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen: %w", err)
	}
	return cl.fetchByUIDs(uids)
}

// MarkSeen sets \Seen on the given UIDs in INBOX.
func (cl *Client) MarkSeen(uids []uint64) error {
	if len(uids) == 0 {
		return nil
	}

	unlock := cl.lockMailbox("INBOX")
	defer unlock()

	c, err := cl.conn()
	if err != nil {
		return err
	}
	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uint32(uid))
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark seen: %w", err)
	}
	return nil
}

// fetchByUIDs fetches source, flags, and envelope for each UID using a
// UID-addressed fetch.
func (cl *Client) fetchByUIDs(uids []uint32) ([]FetchedMessage, error) {
	if len(uids) == 0 {
		return []FetchedMessage{}, nil
	}

	c, err := cl.conn()
	if err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags, imap.FetchEnvelope, imap.FetchUid}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []FetchedMessage
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			continue
		}
		result = append(result, FetchedMessage{
			UID:   uint64(msg.Uid),
			Raw:   raw,
			Flags: msg.Flags,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return result, nil
}
