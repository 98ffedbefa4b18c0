// Package credentials resolves the app password for an account. Interactive
// credential capture and OS-keychain storage are external collaborators; the
// daemon consumes their outputs: an environment variable, or an AES-GCM
// encrypted password stored in account.json alongside an encryption key in
// the environment.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vdavid/maildeck/internal/models"
)

// ErrNoCredentials means no source could supply a password for the account.
var ErrNoCredentials = errors.New("no credentials available")

// keyEnvVar holds the base64 AES-256 key that unlocks encrypted_password
// fields.
const keyEnvVar = "MAILDECK_ENCRYPTION_KEY_BASE64"

// Provider resolves passwords for accounts.
type Provider struct {
	lookupEnv func(string) (string, bool)
}

// NewProvider returns a Provider backed by the process environment.
func NewProvider() *Provider {
	return &Provider{lookupEnv: os.LookupEnv}
}

// Password resolves the app password for an account: the per-account
// environment variable first, then the encrypted field of account.json.
func (p *Provider) Password(state *models.AccountState) (string, error) {
	if password, ok := p.lookupEnv(EnvVarFor(state.Email)); ok && password != "" {
		return password, nil
	}

	if state.EncryptedPassword != "" {
		if keyB64, ok := p.lookupEnv(keyEnvVar); ok && keyB64 != "" {
			return OpenPassword(keyB64, state.EncryptedPassword)
		}
	}

	return "", fmt.Errorf("%w for %s", ErrNoCredentials, state.Email)
}

// EnvVarFor maps an account address to its password variable:
// user@example.com -> MAILDECK_PASSWORD_USER_EXAMPLE_COM.
func EnvVarFor(email string) string {
	slug := strings.ToUpper(email)
	slug = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, slug)
	return "MAILDECK_PASSWORD_" + slug
}
