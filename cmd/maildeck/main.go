// Command maildeck drives the sync daemon. Every invocation writes a single
// JSON line on stdout; the exit code is zero exactly when that line carries
// ok:true.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/vdavid/maildeck/internal/config"
	"github.com/vdavid/maildeck/internal/credentials"
	"github.com/vdavid/maildeck/internal/daemon"
	"github.com/vdavid/maildeck/internal/imapclient"
	"github.com/vdavid/maildeck/internal/logging"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
	"github.com/vdavid/maildeck/internal/store"
	"github.com/vdavid/maildeck/internal/syncer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return fail("usage: maildeck <start|stop|status|sync> [flags]")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "start":
		return cmdStart(rest)
	case "stop":
		return cmdStop(rest)
	case "status":
		return cmdStatus(rest)
	case "sync":
		return cmdSync(rest)
	default:
		return fail(fmt.Sprintf("unknown command %q", command))
	}
}

// emit writes the single JSON result line and returns the exit code.
func emit(result map[string]any) int {
	line, err := json.Marshal(result)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode result"}`)
		return 1
	}
	fmt.Println(string(line))
	if ok, _ := result["ok"].(bool); ok {
		return 0
	}
	return 1
}

func fail(message string) int {
	return emit(map[string]any{"ok": false, "error": message})
}

// setup resolves the base directory and loads config.
func setup(fs *flag.FlagSet, args []string) (*paths.Resolver, *config.Config, error) {
	base := fs.String("base", "", "override the base directory (default $HOME/.maildeck)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	var resolver *paths.Resolver
	var err error
	if *base != "" {
		resolver = paths.NewWithBase(*base)
	} else if resolver, err = paths.New(); err != nil {
		return nil, nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	cfg, err := config.Load(resolver.ConfigFile())
	if err != nil {
		return nil, nil, err
	}
	return resolver, cfg, nil
}

func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	account := fs.String("account", "", "start only this account")

	resolver, cfg, err := setup(fs, args)
	if err != nil {
		return fail(err.Error())
	}

	logger, err := logging.New(resolver.LogFile(), slog.LevelInfo, os.Stderr)
	if err != nil {
		return fail(err.Error())
	}

	supervisor := daemon.New(resolver, cfg, logger)
	if err := supervisor.Run(*account); err != nil {
		return fail(err.Error())
	}
	return emit(map[string]any{"ok": true, "action": "start", "stopped": true})
}

func cmdStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	resolver, _, err := setup(fs, args)
	if err != nil {
		return fail(err.Error())
	}

	pid, ok := daemon.ReadPIDFile(resolver.PIDFile())
	if !ok {
		return fail("daemon is not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fail(fmt.Sprintf("daemon pid %d not found", pid))
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fail(fmt.Sprintf("failed to signal pid %d: %v", pid, err))
	}
	return emit(map[string]any{"ok": true, "action": "stop", "pid": pid})
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	resolver, cfg, err := setup(fs, args)
	if err != nil {
		return fail(err.Error())
	}

	running := false
	pid, ok := daemon.ReadPIDFile(resolver.PIDFile())
	if ok {
		if proc, err := os.FindProcess(pid); err == nil {
			running = proc.Signal(syscall.Signal(0)) == nil
		}
	}

	statuses, err := daemon.Status(resolver, cfg)
	if err != nil {
		return fail(err.Error())
	}

	result := map[string]any{"ok": true, "action": "status", "running": running, "accounts": statuses}
	if running {
		result["pid"] = pid
	}
	return emit(result)
}

func cmdSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	account := fs.String("account", "", "sync only this account")
	days := fs.Int("days", 0, "override sync depth in days")
	max := fs.Int("max", 0, "cap the number of messages fetched")
	full := fs.Bool("full", false, "force a full pass")
	unread := fs.Bool("unread", false, "fetch unseen inbox messages only")

	resolver, cfg, err := setup(fs, args)
	if err != nil {
		return fail(err.Error())
	}

	logger, err := logging.New(resolver.LogFile(), slog.LevelInfo, os.Stderr)
	if err != nil {
		return fail(err.Error())
	}

	accounts := cfg.Accounts
	if *account != "" {
		accounts = []string{*account}
	}
	if len(accounts) == 0 {
		return fail("no accounts configured")
	}

	creds := credentials.NewProvider()
	summaries := make([]map[string]any, 0, len(accounts))
	for _, email := range accounts {
		summary, err := syncOneAccount(resolver, cfg, creds, logger, email, *days, *max, *full, *unread)
		if err != nil {
			return fail(fmt.Sprintf("%s: %v", email, err))
		}
		summaries = append(summaries, summary)
	}
	return emit(map[string]any{"ok": true, "action": "sync", "accounts": summaries})
}

// syncOneAccount runs a single foreground pass for one account and persists
// the advanced state unless the pass was unread-only.
func syncOneAccount(resolver *paths.Resolver, cfg *config.Config, creds *credentials.Provider, logger *slog.Logger, email string, days, max int, full, unread bool) (map[string]any, error) {
	state, err := syncer.LoadState(resolver, email)
	if err != nil {
		return nil, err
	}
	password, err := creds.Password(state)
	if err != nil {
		return nil, err
	}

	if days <= 0 {
		days = state.SyncDepthDays
	}

	fetcher := imapclient.New(cfg.IMAPAddr, email, password, true)
	if err := fetcher.Connect(); err != nil {
		return nil, err
	}
	defer fetcher.Disconnect()

	ops := syncer.NewOps(fetcher, store.NewWriter(resolver), email, logger)

	ctx := context.Background()
	var result *syncer.Result
	switch {
	case unread:
		result, err = ops.UnreadSync(ctx)
	case full || state.LastUID == 0:
		result, err = ops.FullSync(ctx, days, max)
	default:
		result, err = ops.IncrementalSync(ctx, state.LastUID)
	}
	if err != nil {
		return nil, err
	}

	if !unread {
		now := time.Now().UTC()
		if result.LastUID > state.LastUID {
			state.LastUID = result.LastUID
		}
		state.LastSync = &now
		state.SyncState = models.SyncStateIdle
		if err := syncer.SaveState(resolver, state); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"email":           email,
		"threads_touched": result.ThreadsTouched,
		"last_uid":        state.LastUID,
	}, nil
}
