// Package daemon supervises the per-account schedulers and outbox watchers:
// config load, PID file, startup, and signal-driven shutdown.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/vdavid/maildeck/internal/config"
	"github.com/vdavid/maildeck/internal/credentials"
	"github.com/vdavid/maildeck/internal/imapclient"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/outbox"
	"github.com/vdavid/maildeck/internal/paths"
	"github.com/vdavid/maildeck/internal/smtpsender"
	"github.com/vdavid/maildeck/internal/store"
	"github.com/vdavid/maildeck/internal/syncer"
)

// Supervisor owns the daemon lifecycle for all configured accounts.
type Supervisor struct {
	resolver *paths.Resolver
	cfg      *config.Config
	creds    *credentials.Provider
	logger   *slog.Logger

	mu         sync.Mutex
	schedulers map[string]*syncer.Scheduler
	watcherWG  sync.WaitGroup
	cancel     context.CancelFunc
}

// New builds a Supervisor from loaded configuration.
func New(resolver *paths.Resolver, cfg *config.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		resolver:   resolver,
		cfg:        cfg,
		creds:      credentials.NewProvider(),
		logger:     logger,
		schedulers: make(map[string]*syncer.Scheduler),
	}
}

// Run acquires the PID file, starts a scheduler and watcher per account, and
// blocks until SIGINT/SIGTERM. Shutdown stops every scheduler and watcher in
// order, then releases the PID file.
func (sv *Supervisor) Run(accountFilter string) error {
	pidFile := sv.resolver.PIDFile()
	if err := AcquirePIDFile(pidFile); err != nil {
		return err
	}
	defer ReleasePIDFile(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	sv.mu.Lock()
	sv.cancel = cancel
	sv.mu.Unlock()
	defer cancel()

	accounts := sv.accounts(accountFilter)
	if len(accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	for _, account := range accounts {
		if err := sv.startAccount(ctx, account); err != nil {
			sv.logger.Error(fmt.Sprintf("failed to start account: %v", err), "account", account)
		}
	}

	sv.logger.Info(fmt.Sprintf("daemon started with %d account(s)", len(accounts)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sv.logger.Info(fmt.Sprintf("received %s, shutting down", sig))

	sv.shutdown()
	return nil
}

// accounts applies the optional --account filter.
func (sv *Supervisor) accounts(filter string) []string {
	if filter == "" {
		return sv.cfg.Accounts
	}
	for _, account := range sv.cfg.Accounts {
		if strings.EqualFold(account, filter) {
			return []string{account}
		}
	}
	return nil
}

// startAccount wires and starts the scheduler and outbox watcher for one
// account.
func (sv *Supervisor) startAccount(ctx context.Context, account string) error {
	state, err := syncer.LoadState(sv.resolver, account)
	if err != nil {
		return err
	}
	password, err := sv.creds.Password(state)
	if err != nil {
		return err
	}

	fetcher := imapclient.New(sv.cfg.IMAPAddr, account, password, true)
	writer := store.NewWriter(sv.resolver)
	ops := syncer.NewOps(fetcher, writer, account, sv.logger)

	onError := func(account string, err error) {
		sv.logger.Error(fmt.Sprintf("account error: %v", err), "account", account)
	}
	scheduler := syncer.NewScheduler(sv.resolver, ops, account, sv.logger, onError)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	sv.mu.Lock()
	sv.schedulers[account] = scheduler
	sv.mu.Unlock()

	sender := smtpsender.New(sv.cfg.SMTPAddr, account, password, true)
	if signature, err := os.ReadFile(sv.resolver.SignatureFile(account)); err == nil {
		sender.SetSignature(string(signature))
	}

	dispatch := NewDispatcher(sv.resolver, account, sender).Dispatch
	watcher := outbox.NewWatcher(sv.resolver, account, dispatch, !sv.cfg.ReviewBeforeSend, sv.logger, nil)

	sv.watcherWG.Add(1)
	go func() {
		defer sv.watcherWG.Done()
		if err := watcher.Run(ctx); err != nil {
			sv.logger.Error(fmt.Sprintf("watcher stopped: %v", err), "account", account)
		}
	}()

	return nil
}

// shutdown stops schedulers (waiting for in-flight syncs) and watchers.
func (sv *Supervisor) shutdown() {
	sv.mu.Lock()
	schedulers := make([]*syncer.Scheduler, 0, len(sv.schedulers))
	for _, s := range sv.schedulers {
		schedulers = append(schedulers, s)
	}
	cancel := sv.cancel
	sv.mu.Unlock()

	for _, s := range schedulers {
		s.Stop()
	}
	if cancel != nil {
		cancel()
	}
	sv.watcherWG.Wait()
	sv.logger.Info("daemon stopped")
}

// AccountStatus is the per-account view the status command reports.
type AccountStatus struct {
	Email    string           `json:"email"`
	State    models.SyncState `json:"sync_state"`
	LastSync string           `json:"last_sync,omitempty"`
	LastUID  uint64           `json:"last_uid"`
}

// Status reads the persisted state of every configured account.
func Status(resolver *paths.Resolver, cfg *config.Config) ([]AccountStatus, error) {
	statuses := make([]AccountStatus, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		state, err := syncer.LoadState(resolver, account)
		if err != nil {
			return nil, err
		}
		status := AccountStatus{
			Email:   state.Email,
			State:   state.SyncState,
			LastUID: state.LastUID,
		}
		if state.LastSync != nil {
			status.LastSync = state.LastSync.UTC().Format("2006-01-02T15:04:05Z")
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
