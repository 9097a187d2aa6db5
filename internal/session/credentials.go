package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrNoCredentials = errors.New("no stored credentials")

// Credentials are sent in the authenticate message.
type Credentials struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token,omitempty"`
}

// CredentialStore is consulted before every dial so a restarted client can
// authenticate again.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
}

// StaticCredentials always returns itself.
type StaticCredentials Credentials

func (c StaticCredentials) Load(context.Context) (Credentials, error) {
	return Credentials(c), nil
}

// FileCredentialStore keeps credentials as JSON in a single file.
type FileCredentialStore struct {
	Path string
}

func (f FileCredentialStore) Load(context.Context) (Credentials, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials %s: %w", f.Path, err)
	}
	if c.UserID == "" || c.Role == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

// Save replaces the file atomically. The token is a secret, so the file is
// only readable by its owner.
func (f FileCredentialStore) Save(c Credentials) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// Clear removes stored credentials, e.g. on logout.
func (f FileCredentialStore) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
