package imapclient

import (
	"fmt"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
)

// ThreadRelation is one server-reported (message UID, root UID) pair from a
// UID THREAD listing. The sync engine uses these to seed the grouper.
type ThreadRelation struct {
	UID     uint64
	RootUID uint64
}

// ThreadRelations runs UID THREAD with the REFERENCES algorithm on the
// currently selected mailbox and flattens the trees into (uid, root) pairs.
// Servers without THREAD=REFERENCES return an error; callers treat that as
// advisory and fall back to client-side grouping.
func (cl *Client) ThreadRelations() ([]ThreadRelation, error) {
	c, err := cl.conn()
	if err != nil {
		return nil, err
	}

	threadClient := sortthread.NewThreadClient(c)
	threads, err := threadClient.UidThread(sortthread.References, imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("THREAD command returned error: %w", err)
	}

	var relations []ThreadRelation
	var walk func(t *sortthread.Thread, root uint32)
	walk = func(t *sortthread.Thread, root uint32) {
		if t == nil {
			return
		}
		relations = append(relations, ThreadRelation{UID: uint64(t.Id), RootUID: uint64(root)})
		for _, child := range t.Children {
			walk(child, root)
		}
	}
	for _, t := range threads {
		if t == nil {
			continue
		}
		walk(t, t.Id)
	}
	return relations, nil
}
