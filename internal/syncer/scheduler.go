package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vdavid/maildeck/internal/imapclient"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

// ErrSyncInProgress marks a sync attempt while another is in flight for the
// same account.
var ErrSyncInProgress = errors.New("sync already in progress")

// Scheduler runs the per-account polling loop: one pass immediately on start,
// then one per poll interval, single-flight. After each successful pass the
// high-water mark and last-sync timestamp are persisted.
type Scheduler struct {
	resolver *paths.Resolver
	ops      *Ops
	account  string
	logger   *slog.Logger
	onError  func(account string, err error)

	mu      sync.Mutex
	running bool
	syncing bool
	// authFailed is set by a pass that failed with imapclient.ErrAuth.
	authFailed bool
	state      *models.AccountState
	stop       chan struct{}
	done       chan struct{}
}

// NewScheduler returns a stopped Scheduler. onError receives pass failures;
// the loop continues after reporting. It may be nil.
func NewScheduler(resolver *paths.Resolver, ops *Ops, account string, logger *slog.Logger, onError func(string, error)) *Scheduler {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Scheduler{
		resolver: resolver,
		ops:      ops,
		account:  account,
		logger:   logger,
		onError:  onError,
	}
}

// Start loads the persisted state, runs one pass immediately, and arms the
// periodic timer. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	state, err := LoadState(s.resolver, s.account)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = state
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

// Stop ends the polling loop and blocks until it exits. An in-flight sync is
// allowed to complete: the stop channel only silences the ticker, it does not
// cancel the context the running pass writes under.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stop
	done := s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// State returns a copy of the scheduler's current account state.
func (s *Scheduler) State() models.AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return *models.NewAccountState(s.account)
	}
	return *s.state
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)

	interval := time.Duration(s.State().PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sync pass unless one is already in flight, in which case the
// tick is skipped without queueing. After an authentication failure every
// later tick is skipped and the account stays in sync_state=error.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.authFailed {
		s.mu.Unlock()
		return
	}
	if s.syncing {
		s.mu.Unlock()
		s.logger.Info("sync already in progress, skipping tick", "account", s.account)
		return
	}
	s.syncing = true
	lastUID := s.state.LastUID
	depthDays := s.state.SyncDepthDays
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if err := s.runPass(ctx, lastUID, depthDays); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error(fmt.Sprintf("sync failed: %v", err), "account", s.account)
		s.setSyncState(models.SyncStateError)
		if errors.Is(err, imapclient.ErrAuth) {
			s.mu.Lock()
			s.authFailed = true
			s.mu.Unlock()
		}
		s.onError(s.account, err)
		return
	}
}

// runPass picks incremental when a high-water mark exists, full otherwise,
// and persists the advanced state on success.
func (s *Scheduler) runPass(ctx context.Context, lastUID uint64, depthDays int) error {
	s.setSyncState(models.SyncStateSyncing)

	if err := s.ops.fetcher.Connect(); err != nil {
		return err
	}
	defer s.ops.fetcher.Disconnect()

	var result *Result
	var err error
	if lastUID > 0 {
		result, err = s.ops.IncrementalSync(ctx, lastUID)
	} else {
		result, err = s.ops.FullSync(ctx, depthDays, 0)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if result.LastUID > s.state.LastUID {
		s.state.LastUID = result.LastUID
	}
	s.state.LastSync = &now
	s.state.SyncState = models.SyncStateIdle
	stateCopy := *s.state
	s.mu.Unlock()

	s.logger.Info(
		fmt.Sprintf("sync complete: %d threads touched, last_uid=%d", result.ThreadsTouched, stateCopy.LastUID),
		"account", s.account,
	)
	return SaveState(s.resolver, &stateCopy)
}

// setSyncState updates and persists the sync_state field.
func (s *Scheduler) setSyncState(state models.SyncState) {
	s.mu.Lock()
	s.state.SyncState = state
	stateCopy := *s.state
	s.mu.Unlock()

	if err := SaveState(s.resolver, &stateCopy); err != nil {
		s.logger.Error(fmt.Sprintf("failed to persist account state: %v", err), "account", s.account)
	}
}
