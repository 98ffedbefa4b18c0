package syncer

import (
	"fmt"
	"os"

	"github.com/vdavid/maildeck/internal/fsatomic"
	"github.com/vdavid/maildeck/internal/models"
	"github.com/vdavid/maildeck/internal/paths"
)

// LoadState reads account.json, returning a defaulted state when the file
// does not exist yet.
func LoadState(resolver *paths.Resolver, account string) (*models.AccountState, error) {
	path := resolver.AccountStateFile(account)
	var state models.AccountState
	if err := fsatomic.ReadJSON(path, &state); err != nil {
		if os.IsNotExist(err) {
			return models.NewAccountState(account), nil
		}
		return nil, fmt.Errorf("failed to load account state: %w", err)
	}
	if state.Email == "" {
		state.Email = account
	}
	state.ApplyDefaults()
	return &state, nil
}

// SaveState atomically rewrites account.json.
func SaveState(resolver *paths.Resolver, state *models.AccountState) error {
	path := resolver.AccountStateFile(state.Email)
	if err := fsatomic.WriteJSON(path, state); err != nil {
		return fmt.Errorf("failed to save account state: %w", err)
	}
	return nil
}
