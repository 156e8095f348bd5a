// File: internal/vault/manager.go
// Description: Vault location and credential lookup. The vault file lives in
// the platform data directory unless overridden by configuration or the
// PILOT_VAULT_FILE environment variable (useful for tests and custom
// deployments).

package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
)

const appDirName = "pilot-cli"

// DefaultPath resolves the vault file location: the PILOT_VAULT_FILE
// environment variable wins, then the platform application data directory.
func DefaultPath() (string, error) {
	if env := os.Getenv("PILOT_VAULT_FILE"); env != "" {
		expanded, err := homedir.Expand(env)
		if err != nil {
			return "", fmt.Errorf("failed to expand PILOT_VAULT_FILE: %w", err)
		}
		return expanded, nil
	}
	dir, err := appDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "vault.enc"), nil
}

func appDataDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "windows":
		if base := os.Getenv("APPDATA"); base != "" {
			return filepath.Join(base, appDirName), nil
		}
		return filepath.Join(home, "AppData", "Roaming", appDirName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName), nil
	default:
		if base := os.Getenv("XDG_DATA_HOME"); base != "" {
			return filepath.Join(base, appDirName), nil
		}
		return filepath.Join(home, ".local", "share", appDirName), nil
	}
}

// Open resolves the vault path (explicit path wins over the default), makes
// sure the parent directory exists, and returns a locked handle.
func Open(explicitPath, masterPassword string) (*Vault, error) {
	path := explicitPath
	if path == "" {
		resolved, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return New(path, masterPassword), nil
}

// LookupAPIKey fetches the stored secret for a service from an unlocked
// vault. Used to supply planner/vision API keys when the environment does
// not provide them.
func LookupAPIKey(v *Vault, service string) (string, error) {
	entry, err := v.GetCredential(service)
	if err != nil {
		return "", err
	}
	return entry.Password, nil
}
