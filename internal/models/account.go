package models

import "time"

// SyncState describes what the scheduler is currently doing for an account.
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
	SyncStateError   SyncState = "error"
)

// Defaults applied when account.json omits a field.
const (
	DefaultSyncDepthDays       = 30
	DefaultPollIntervalSeconds = 60
)

// AccountState is the persisted per-account state in accounts/<email>/account.json.
// The scheduler for the account is its single writer.
type AccountState struct {
	Email               string     `json:"email"`
	LastSync            *time.Time `json:"last_sync"`
	LastUID             uint64     `json:"last_uid"`
	SyncDepthDays       int        `json:"sync_depth_days"`
	PollIntervalSeconds int        `json:"poll_interval_seconds"`
	SyncState           SyncState  `json:"sync_state"`
	EncryptedPassword   string     `json:"encrypted_password,omitempty"`
}

// NewAccountState returns an AccountState with defaults for a fresh account.
func NewAccountState(email string) *AccountState {
	return &AccountState{
		Email:               email,
		SyncDepthDays:       DefaultSyncDepthDays,
		PollIntervalSeconds: DefaultPollIntervalSeconds,
		SyncState:           SyncStateIdle,
	}
}

// ApplyDefaults fills zero-valued fields after loading from disk.
func (s *AccountState) ApplyDefaults() {
	if s.SyncDepthDays <= 0 {
		s.SyncDepthDays = DefaultSyncDepthDays
	}
	if s.PollIntervalSeconds <= 0 {
		s.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if s.SyncState == "" {
		s.SyncState = SyncStateIdle
	}
}
