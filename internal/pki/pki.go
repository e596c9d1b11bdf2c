// Package pki stores TLS credentials handed out by a mux server's
// bootstrap handshake. Each domain gets its own directory holding
// ca.pem (the trust root) and cert.pem (client certificate with its
// private key concatenated).
package pki

import (
	"fmt"
	"os"
	"path/filepath"
)

type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// ForDomain returns the store for the named domain under the user's
// data directory ($XDG_DATA_HOME, falling back to ~/.local/share).
func ForDomain(domain string) (*Store, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return NewStore(filepath.Join(base, "remux", "pki", domain)), nil
}

func (s *Store) CAPath() string   { return filepath.Join(s.dir, "ca.pem") }
func (s *Store) CertPath() string { return filepath.Join(s.dir, "cert.pem") }

// Exists reports whether both credential files are present.
func (s *Store) Exists() bool {
	for _, path := range []string{s.CAPath(), s.CertPath()} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Save writes both credential files. They are private to the user:
// together they are sufficient to attach to the mux.
func (s *Store) Save(caPEM, certPEM string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create pki directory: %w", err)
	}
	if err := os.WriteFile(s.CAPath(), []byte(caPEM), 0o600); err != nil {
		return fmt.Errorf("write CA bundle: %w", err)
	}
	if err := os.WriteFile(s.CertPath(), []byte(certPEM), 0o600); err != nil {
		return fmt.Errorf("write client certificate: %w", err)
	}
	return nil
}
