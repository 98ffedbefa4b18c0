package daemon

import (
	"fmt"

	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
	"github.com/vdavid/maildeck/internal/smtpsender"
	"github.com/vdavid/maildeck/internal/store"
)

// Dispatcher turns ready drafts into SMTP submissions, resolving reply
// threading headers from the on-disk thread.
type Dispatcher struct {
	resolver *paths.Resolver
	account  string
	sender   *smtpsender.Sender
}

// NewDispatcher returns a Dispatcher for one account.
func NewDispatcher(resolver *paths.Resolver, account string, sender *smtpsender.Sender) *Dispatcher {
	return &Dispatcher{resolver: resolver, account: account, sender: sender}
}

// Dispatch satisfies outbox.DispatchFunc.
func (d *Dispatcher) Dispatch(draft *models.Draft) (string, error) {
	inReplyTo := ""
	var references []string

	if draft.Action == models.ActionReply {
		fm, err := store.LatestMessageFrontmatter(d.resolver, d.account, draft.ThreadID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve reply thread %s: %w", draft.ThreadID, err)
		}
		inReplyTo = fm.RFC822MessageID
		references = append(append([]string{}, fm.References...), fm.RFC822MessageID)

		if draft.Subject == "" {
			meta, err := store.ReadThreadMeta(d.resolver, d.account, draft.ThreadID)
			if err == nil && meta.Subject != "" {
				draft.Subject = "Re: " + meta.Subject
			}
		}
	}

	result, err := d.sender.Send(draft, inReplyTo, references)
	if err != nil {
		return "", err
	}
	return result.ProviderMessageID, nil
}
