package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

// debounceWindow is how long a draft's size must hold still before it is
// processed. External writers (agents, editors) write drafts non-atomically;
// this window is a contract, not a tunable.
const debounceWindow = 500 * time.Millisecond

// debouncePoll is how often pending files are re-stated.
const debouncePoll = 100 * time.Millisecond

// DispatchFunc submits a validated, ready draft and returns the provider
// message id.
type DispatchFunc func(draft *models.Draft) (providerMessageID string, err error)

// Watcher observes one account's outbox directory, debounces writes, and
// drives drafts through the state machine.
type Watcher struct {
	resolver    *paths.Resolver
	account     string
	machine     *Machine
	dispatch    DispatchFunc
	autoPromote bool
	logger      *slog.Logger
	onError     func(filename string, err error)

	mu       sync.Mutex
	pending  map[string]*pendingFile
	inFlight map[string]bool
}

type pendingFile struct {
	size     int64
	stableAt time.Time
}

// NewWatcher returns a Watcher for one account. autoPromote advances
// pending_review drafts to ready_to_send immediately (review_before_send
// disabled). onError receives per-draft failures; it may be nil.
func NewWatcher(resolver *paths.Resolver, account string, dispatch DispatchFunc, autoPromote bool, logger *slog.Logger, onError func(string, error)) *Watcher {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Watcher{
		resolver:    resolver,
		account:     account,
		machine:     NewMachine(resolver, account),
		dispatch:    dispatch,
		autoPromote: autoPromote,
		logger:      logger,
		onError:     onError,
		pending:     make(map[string]*pendingFile),
		inFlight:    make(map[string]bool),
	}
}

// Run watches the outbox until ctx is cancelled. It begins with a sweep of
// existing files so drafts dropped while the daemon was down are recovered.
func (w *Watcher) Run(ctx context.Context) error {
	dir := w.resolver.OutboxDir(w.account)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create outbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch outbox: %w", err)
	}

	w.sweep(dir)

	ticker := time.NewTicker(debouncePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.noteEvent(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(fmt.Sprintf("outbox watcher error: %v", err), "account", w.account)
		case <-ticker.C:
			w.flushStable()
		}
	}
}

// sweep enqueues every existing outbox file as though a fresh event arrived.
func (w *Watcher) sweep(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Error(fmt.Sprintf("outbox sweep failed: %v", err), "account", w.account)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.noteEvent(filepath.Join(dir, entry.Name()))
	}
}

// noteEvent records a file for debounce tracking. Temp files and non-JSON
// names are ignored.
func (w *Watcher) noteEvent(path string) {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".tmp") || !strings.HasSuffix(name, ".json") {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[name]
	if !ok || p.size != info.Size() {
		w.pending[name] = &pendingFile{size: info.Size(), stableAt: time.Now()}
	}
}

// flushStable processes every pending file whose size has held still for the
// debounce window.
func (w *Watcher) flushStable() {
	dir := w.resolver.OutboxDir(w.account)

	w.mu.Lock()
	var ready []string
	for name, p := range w.pending {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			delete(w.pending, name)
			continue
		}
		if info.Size() != p.size {
			p.size = info.Size()
			p.stableAt = time.Now()
			continue
		}
		if time.Since(p.stableAt) >= debounceWindow {
			delete(w.pending, name)
			ready = append(ready, name)
		}
	}
	w.mu.Unlock()

	for _, name := range ready {
		w.process(name)
	}
}

// process runs one settled draft through validation, auto-promotion, and
// dispatch. At most one in-flight send per filename.
func (w *Watcher) process(filename string) {
	w.mu.Lock()
	if w.inFlight[filename] {
		w.mu.Unlock()
		return
	}
	w.inFlight[filename] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.inFlight, filename)
		w.mu.Unlock()
	}()

	draft, err := w.machine.Read(filename)
	if err != nil {
		// A draft that reached a terminal directory between the event and
		// this pass is gone from outbox/; nothing to do.
		if errors.Is(err, ErrDraftNotFound) {
			return
		}
		w.logger.Error(fmt.Sprintf("failed to read draft: %v", err), "account", w.account, "draft", filename)
		w.onError(filename, err)
		return
	}

	if err := Validate(draft); err != nil {
		w.logger.Error(fmt.Sprintf("invalid draft: %v", err), "account", w.account, "draft", filename)
		w.onError(filename, err)
		return
	}

	if draft.Status == models.StatusPendingReview && w.autoPromote {
		if draft, err = w.machine.Transition(filename, models.StatusReadyToSend, Extra{}); err != nil {
			w.onError(filename, err)
			return
		}
	}

	if draft.Status != models.StatusReadyToSend {
		return
	}

	if _, err := w.machine.Transition(filename, models.StatusSending, Extra{}); err != nil {
		w.onError(filename, err)
		return
	}

	result, err := w.dispatch(draft)
	if err != nil {
		w.logger.Error(fmt.Sprintf("send failed: %v", err), "account", w.account, "draft", filename)
		if _, terr := w.machine.Transition(filename, models.StatusFailed, Extra{Error: err.Error()}); terr != nil {
			w.onError(filename, terr)
		}
		return
	}

	if _, err := w.machine.Transition(filename, models.StatusSent, Extra{ProviderMessageID: result}); err != nil {
		w.onError(filename, err)
		return
	}
	w.logger.Info("draft sent", "account", w.account, "draft", filename)
}
