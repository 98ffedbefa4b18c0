// Package outbox advances draft files through their lifecycle and watches the
// outbox directory for new drafts to dispatch.
package outbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vdavid/maildeck/internal/fsatomic"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

// ErrInvalidTransition marks a (current, new) status pair outside the allowed
// set. The on-disk draft is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrDraftNotFound marks a missing draft file.
var ErrDraftNotFound = errors.New("draft not found")

// allowedTransitions is the outbox lifecycle:
// pending_review → ready_to_send → sending → sent | failed.
var allowedTransitions = map[models.DraftStatus][]models.DraftStatus{
	models.StatusPendingReview: {models.StatusReadyToSend},
	models.StatusReadyToSend:   {models.StatusSending},
	models.StatusSending:       {models.StatusSent, models.StatusFailed},
}

// Extra carries the result metadata attached on terminal transitions.
type Extra struct {
	ProviderMessageID string
	Error             string
}

// Machine reads, validates, and transitions drafts for one account subtree.
type Machine struct {
	resolver *paths.Resolver
	account  string
}

// NewMachine returns a Machine bound to one account.
func NewMachine(resolver *paths.Resolver, account string) *Machine {
	return &Machine{resolver: resolver, account: account}
}

// Read loads a draft from outbox/<filename>.
func (m *Machine) Read(filename string) (*models.Draft, error) {
	path := m.outboxPath(filename)
	var draft models.Draft
	if err := fsatomic.ReadJSON(path, &draft); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDraftNotFound, filename)
		}
		return nil, err
	}
	return &draft, nil
}

// Validate checks the shape of an ingested draft before any state change.
func Validate(draft *models.Draft) error {
	switch draft.Action {
	case models.ActionCompose:
	case models.ActionReply:
		if draft.ThreadID == "" {
			return fmt.Errorf("reply draft requires thread_id")
		}
	default:
		return fmt.Errorf("invalid action %q", draft.Action)
	}

	if len(draft.To) == 0 {
		return fmt.Errorf("draft requires at least one recipient")
	}
	for _, to := range draft.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("invalid recipient %q", to)
		}
	}

	if strings.TrimSpace(draft.Subject) == "" {
		return fmt.Errorf("draft requires a subject")
	}
	if strings.TrimSpace(draft.Body) == "" {
		return fmt.Errorf("draft requires a body")
	}

	switch draft.Status {
	case models.StatusPendingReview, models.StatusReadyToSend, models.StatusSending,
		models.StatusSent, models.StatusFailed:
	default:
		return fmt.Errorf("invalid status %q", draft.Status)
	}
	return nil
}

// Transition verifies the (current, new) pair, merges extra metadata, and
// persists: terminal states move the file to sent/ or failed/, everything
// else rewrites in place atomically.
func (m *Machine) Transition(filename string, newStatus models.DraftStatus, extra Extra) (*models.Draft, error) {
	draft, err := m.Read(filename)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(draft.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, draft.Status, newStatus)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	draft.Status = newStatus
	if extra.ProviderMessageID != "" {
		draft.ProviderMessageID = extra.ProviderMessageID
	}
	if extra.Error != "" {
		draft.Error = extra.Error
	}

	switch newStatus {
	case models.StatusSent:
		draft.SentAt = now
		if err := m.moveTerminal(filename, draft, m.resolver.SentDir(m.account)); err != nil {
			return nil, err
		}
	case models.StatusFailed:
		draft.FailedAt = now
		if err := m.moveTerminal(filename, draft, m.resolver.FailedDir(m.account)); err != nil {
			return nil, err
		}
	default:
		if err := fsatomic.WriteJSON(m.outboxPath(filename), draft); err != nil {
			return nil, fmt.Errorf("failed to rewrite draft %s: %w", filename, err)
		}
	}

	return draft, nil
}

// moveTerminal writes the draft into its terminal directory, then deletes the
// outbox copy. A crash between the two leaves both copies; the startup sweep
// leaves the outbox copy alone because it still reads sending, a status the
// watcher does not act on.
func (m *Machine) moveTerminal(filename string, draft *models.Draft, dir string) error {
	dest := filepath.Join(dir, paths.SanitizeName(filename))
	if err := fsatomic.WriteJSON(dest, draft); err != nil {
		return fmt.Errorf("failed to write terminal draft %s: %w", filename, err)
	}
	if err := os.Remove(m.outboxPath(filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove outbox draft %s: %w", filename, err)
	}
	return nil
}

func transitionAllowed(current, next models.DraftStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (m *Machine) outboxPath(filename string) string {
	return filepath.Join(m.resolver.OutboxDir(m.account), paths.SanitizeName(filename))
}
