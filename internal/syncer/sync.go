// Package syncer orchestrates sync passes (IMAP fetch, cleaning, thread
// grouping, storage) and schedules them per account.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vdavid/maildeck/internal/clean"
	"github.com/vdavid/maildeck/internal/imapclient"
	"github.com/vdavid/maildeck/internal/mimeparse"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/store"
	"github.com/vdavid/maildeck/internal/threadgroup"
)

// frequentContactThreshold is the message count at which a contact is marked
// frequent.
const frequentContactThreshold = 5

// Fetcher is the slice of the IMAP client the sync passes use.
type Fetcher interface {
	Connect() error
	Disconnect()
	FetchRecent(days, max int) ([]imapclient.FetchedMessage, error)
	FetchInbox(days, max int) ([]imapclient.FetchedMessage, error)
	FetchSince(lastUID uint64) ([]imapclient.FetchedMessage, error)
	FetchUnread() ([]imapclient.FetchedMessage, error)
	ThreadRelations() ([]imapclient.ThreadRelation, error)
}

// Result summarizes one sync pass.
type Result struct {
	ThreadsTouched int
	LastUID        uint64
}

// Ops runs sync passes for one account.
type Ops struct {
	fetcher Fetcher
	writer  *store.Writer
	account string
	logger  *slog.Logger
}

// NewOps returns sync operations for one account.
func NewOps(fetcher Fetcher, writer *store.Writer, account string, logger *slog.Logger) *Ops {
	return &Ops{fetcher: fetcher, writer: writer, account: account, logger: logger}
}

// FullSync fetches the last depthDays days from all mail and writes the
// corpus. max caps the number of messages; zero means no cap.
func (o *Ops) FullSync(ctx context.Context, depthDays, max int) (*Result, error) {
	batch, err := o.fetcher.FetchRecent(depthDays, max)
	if err != nil {
		return nil, err
	}
	return o.processBatch(ctx, batch, true)
}

// IncrementalSync fetches messages above the high-water mark and writes them.
func (o *Ops) IncrementalSync(ctx context.Context, lastUID uint64) (*Result, error) {
	batch, err := o.fetcher.FetchSince(lastUID)
	if err != nil {
		return nil, err
	}
	result, err := o.processBatch(ctx, batch, true)
	if err != nil {
		return nil, err
	}
	if result.LastUID < lastUID {
		result.LastUID = lastUID
	}
	return result, nil
}

// UnreadSync fetches unseen inbox messages. The high-water mark is not
// advanced; foreground commands use this pass.
func (o *Ops) UnreadSync(ctx context.Context) (*Result, error) {
	batch, err := o.fetcher.FetchUnread()
	if err != nil {
		return nil, err
	}
	result, err := o.processBatch(ctx, batch, false)
	if err != nil {
		return nil, err
	}
	result.LastUID = 0
	return result, nil
}

// processBatch groups a fetched batch into threads and persists everything.
// Per-message failures are logged and skipped; per-thread failures end the
// pass with an error so the high-water mark does not advance past them.
func (o *Ops) processBatch(ctx context.Context, batch []imapclient.FetchedMessage, seedFromServer bool) (*Result, error) {
	if len(batch) == 0 {
		return &Result{}, nil
	}

	grouper := threadgroup.New()
	if seedFromServer {
		o.seedGrouper(grouper, batch)
	}

	rawMessages := make([]threadgroup.RawMessage, 0, len(batch))
	byUID := make(map[uint64]imapclient.FetchedMessage, len(batch))
	for _, m := range batch {
		rawMessages = append(rawMessages, threadgroup.RawMessage{UID: m.UID, Raw: m.Raw})
		byUID[m.UID] = m
	}

	assignments := grouper.Assign(rawMessages)

	threads := make(map[string][]threadgroup.Assignment)
	order := make([]string, 0)
	for _, a := range assignments {
		if _, seen := threads[a.ThreadID]; !seen {
			order = append(order, a.ThreadID)
		}
		threads[a.ThreadID] = append(threads[a.ThreadID], a)
	}

	var maxUID uint64
	for _, m := range batch {
		if m.UID > maxUID {
			maxUID = m.UID
		}
	}

	touched := 0
	for _, threadID := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := o.writeThread(ctx, threadID, threads[threadID], byUID); err != nil {
			return nil, fmt.Errorf("failed to write thread %s: %w", threadID, err)
		}
		touched++
	}

	return &Result{ThreadsTouched: touched, LastUID: maxUID}, nil
}

// seedGrouper asks the server for UID THREAD relations and seeds the grouper
// with them. Servers without the extension are ignored.
func (o *Ops) seedGrouper(grouper *threadgroup.Grouper, batch []imapclient.FetchedMessage) {
	relations, err := o.fetcher.ThreadRelations()
	if err != nil {
		o.logger.Debug(fmt.Sprintf("server THREAD unavailable: %v", err), "account", o.account)
		return
	}

	messageIDs := make(map[uint64]string, len(batch))
	for _, m := range batch {
		messageIDs[m.UID] = threadgroup.MessageIDOf(m.Raw)
	}

	for _, rel := range relations {
		rootID := messageIDs[rel.RootUID]
		memberID := messageIDs[rel.UID]
		if rootID == "" || memberID == "" {
			continue
		}
		grouper.Seed(memberID, threadgroup.HashID(rootID))
	}
}

// parsedMessage pairs a fetched message with its decoded form.
type parsedMessage struct {
	uid    uint64
	flags  []string
	parsed *mimeparse.ParsedMessage
	body   string
}

// writeThread parses, cleans, and persists every message of one thread, then
// the thread metadata and index entries. Messages are written in ascending
// date order.
func (o *Ops) writeThread(ctx context.Context, threadID string, members []threadgroup.Assignment, byUID map[uint64]imapclient.FetchedMessage) error {
	parsed := make([]parsedMessage, 0, len(members))
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		fetched := byUID[member.UID]
		pm, err := mimeparse.Parse(fetched.Raw)
		if err != nil {
			o.logger.Warn(fmt.Sprintf("skipping unparseable message: %v", err), "account", o.account, "uid", member.UID)
			continue
		}
		parsed = append(parsed, parsedMessage{
			uid:    member.UID,
			flags:  fetched.Flags,
			parsed: pm,
			body:   clean.Body(pm.TextBody, pm.HTMLBody),
		})
	}
	if len(parsed) == 0 {
		return nil
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].parsed.Date.Before(parsed[j].parsed.Date)
	})

	meta := &models.ThreadMeta{
		ID:      threadID,
		Subject: parsed[0].parsed.Subject,
		Labels:  []string{},
	}

	var sizeBytes int64
	participants := make(map[string]models.Participant)
	for i := range parsed {
		if err := ctx.Err(); err != nil {
			return err
		}
		pm := &parsed[i]

		messageID := pm.parsed.MessageID
		if messageID == "" {
			messageID = fmt.Sprintf("uid%d", pm.uid)
		}

		fm := &models.Frontmatter{
			ID:              fmt.Sprintf("%s/%s", threadID, messageID),
			MessageID:       messageID,
			ThreadID:        threadID,
			RFC822MessageID: pm.parsed.MessageID,
			InReplyTo:       pm.parsed.InReplyTo,
			References:      pm.parsed.References,
			From:            pm.parsed.From,
			To:              pm.parsed.To,
			Cc:              pm.parsed.Cc,
			Date:            pm.parsed.Date,
			UID:             pm.uid,
		}

		if _, err := o.writer.WriteMessage(o.account, threadID, fm, pm.body); err != nil {
			return err
		}

		attachments, err := o.writer.WriteAttachments(o.account, threadID, pm.parsed.Attachments)
		if err != nil {
			return err
		}
		meta.Attachments = append(meta.Attachments, attachments...)

		sizeBytes += int64(len(byUID[pm.uid].Raw))
		o.collectParticipants(participants, pm.parsed)

		seen := hasFlag(pm.flags, `\Seen`)
		if !seen {
			meta.Unread = true
		}
		if hasFlag(pm.flags, `\Flagged`) {
			meta.Starred = true
		}

		if meta.FirstDate.IsZero() || pm.parsed.Date.Before(meta.FirstDate) {
			meta.FirstDate = pm.parsed.Date
		}
		if pm.parsed.Date.After(meta.LastDate) {
			meta.LastDate = pm.parsed.Date
		}
	}

	meta.MessageCount = len(parsed)
	meta.HasAttachments = len(meta.Attachments) > 0
	meta.Participants = sortedParticipants(participants)

	if err := o.writer.WriteThreadMeta(o.account, meta); err != nil {
		return err
	}

	latest := parsed[len(parsed)-1]
	entry := &models.ThreadIndexEntry{
		ID:             threadID,
		Subject:        meta.Subject,
		From:           latest.parsed.From.Addr,
		FromName:       latest.parsed.From.Name,
		Participants:   participantEmails(meta.Participants),
		Labels:         meta.Labels,
		Unread:         meta.Unread,
		Starred:        meta.Starred,
		MsgCount:       meta.MessageCount,
		LastDate:       meta.LastDate,
		FirstDate:      meta.FirstDate,
		Snippet:        clean.Snippet(latest.body),
		HasAttachments: meta.HasAttachments,
		SizeBytes:      sizeBytes,
	}
	if err := o.writer.UpsertThreadIndex(o.account, entry); err != nil {
		return err
	}

	return o.upsertContacts(parsed)
}

// collectParticipants folds a message's addresses into the thread's
// participant set.
func (o *Ops) collectParticipants(into map[string]models.Participant, pm *mimeparse.ParsedMessage) {
	add := func(addr models.Address) {
		if addr.Addr == "" {
			return
		}
		key := strings.ToLower(addr.Addr)
		existing, ok := into[key]
		if ok && existing.Name != "" {
			return
		}
		role := models.RoleExternal
		if key == strings.ToLower(o.account) {
			role = models.RoleSelf
		}
		into[key] = models.Participant{Email: addr.Addr, Name: addr.Name, Role: role}
	}

	add(pm.From)
	for _, a := range pm.To {
		add(a)
	}
	for _, a := range pm.Cc {
		add(a)
	}
}

// upsertContacts records external senders in contacts.jsonl, merging with any
// stored entry.
func (o *Ops) upsertContacts(parsed []parsedMessage) error {
	for _, pm := range parsed {
		from := pm.parsed.From
		if from.Addr == "" || strings.EqualFold(from.Addr, o.account) {
			continue
		}

		existing, err := o.writer.ReadContact(o.account, from.Addr)
		if err != nil {
			return err
		}

		entry := &models.ContactEntry{
			Email:        from.Addr,
			Name:         from.Name,
			FirstSeen:    pm.parsed.Date,
			LastSeen:     pm.parsed.Date,
			MsgCount:     1,
			CommonLabels: []string{},
		}
		if existing != nil {
			entry.MsgCount = existing.MsgCount + 1
			if existing.Name != "" {
				entry.Name = existing.Name
			}
			if !existing.FirstSeen.IsZero() && existing.FirstSeen.Before(entry.FirstSeen) {
				entry.FirstSeen = existing.FirstSeen
			}
			if existing.LastSeen.After(entry.LastSeen) {
				entry.LastSeen = existing.LastSeen
			}
			if len(existing.CommonLabels) > 0 {
				entry.CommonLabels = existing.CommonLabels
			}
		}
		entry.IsFrequent = entry.MsgCount >= frequentContactThreshold

		if err := o.writer.UpsertContact(o.account, entry); err != nil {
			return err
		}
	}
	return nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func sortedParticipants(m map[string]models.Participant) []models.Participant {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Participant, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func participantEmails(participants []models.Participant) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		out = append(out, p.Email)
	}
	return out
}
