package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailbot"

const (
	envBackend  = "MAILBOT_KEYRING_BACKEND"
	envPassword = "MAILBOT_KEYRING_PASSWORD"
	envDir      = "MAILBOT_KEYRING_DIR"
)

// ErrNoFilePassword is returned when the encrypted file backend is used
// without MAILBOT_KEYRING_PASSWORD.
var ErrNoFilePassword = errors.New(envPassword + " is required for the file keyring")

var backends = map[string]keyring.BackendType{
	"secret-service": keyring.SecretServiceBackend,
	"keychain":       keyring.KeychainBackend,
	"wincred":        keyring.WinCredBackend,
	"file":           keyring.FileBackend,
}

var openKeyring = openSystemKeyring

func openSystemKeyring() (keyring.Keyring, error) {
	cfg, err := ringConfig(os.Getenv(envBackend), os.Getenv(envPassword), os.Getenv(envDir))
	if err != nil {
		return nil, err
	}
	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// ringConfig picks the keyring backends for the service. A named backend
// is used alone. Otherwise desktop stores are tried first and the file
// backend is only offered when a password for it is configured, since the
// bot usually runs headless.
func ringConfig(backend, password, dir string) (keyring.Config, error) {
	var allowed []keyring.BackendType
	if backend != "" {
		bt, ok := backends[strings.ToLower(backend)]
		if !ok {
			return keyring.Config{}, fmt.Errorf("unknown %s %q", envBackend, backend)
		}
		if bt == keyring.FileBackend && password == "" {
			return keyring.Config{}, ErrNoFilePassword
		}
		allowed = []keyring.BackendType{bt}
	} else {
		allowed = []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
		}
		if password != "" {
			allowed = append(allowed, keyring.FileBackend)
		}
	}

	if dir == "" {
		dir = "~/.config/mailbot/credentials"
	}
	return keyring.Config{
		ServiceName:     serviceName,
		AllowedBackends: allowed,
		FileDir:         dir,
		FilePasswordFunc: func(string) (string, error) {
			if password == "" {
				return "", ErrNoFilePassword
			}
			return password, nil
		},
		KeychainTrustApplication: true,
	}, nil
}

// Get retrieves a secret by key, e.g. TELEGRAM_BOT_TOKEN.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a secret so later runs can start without it in the environment.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: key, Label: "mailbot " + key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
