// Package keypair loads the long-lived RSA key that packages are signed
// with, creating and persisting one when none exists yet.
//
// A key file is never overwritten: the package ID is derived from the public
// key, so replacing the key would orphan every ID issued with it.
package keypair

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/storacha/go-crx3/principal"
	"github.com/storacha/go-crx3/principal/rsa/signer"
)

var (
	// ErrKeyUnreadable means a key file exists but could not be read or
	// parsed.
	ErrKeyUnreadable = errors.New("key file is unreadable")
	// ErrKeyUnwritable means a new key was generated but could not be saved.
	ErrKeyUnwritable = errors.New("key file is unwritable")
)

// KeyError reports a failure to load or save the key file at Path. Kind is
// ErrKeyUnreadable or ErrKeyUnwritable.
type KeyError struct {
	Kind error
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: %q: %s", e.Kind, e.Path, e.Err)
}

func (e *KeyError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// KeyPair is a private key together with its public half.
type KeyPair struct {
	Signer principal.Signer
	// Created is true when the key was generated rather than loaded.
	Created bool
	// SavedPath is where a newly created key was persisted. It is empty when
	// the key was loaded or when no key path was configured.
	SavedPath string
}

// Verifier returns the public half of the pair.
func (kp *KeyPair) Verifier() principal.Verifier {
	return kp.Signer.Verifier()
}

// PublicKey returns the DER encoded SubjectPublicKeyInfo of the pair.
func (kp *KeyPair) PublicKey() []byte {
	return kp.Signer.Verifier().Encode()
}

// LoadOrCreate reads the private key stored at path. When path is empty a
// throwaway key is generated. When nothing exists at path a new key is
// generated and saved there.
func LoadOrCreate(path string, options ...Option) (*KeyPair, error) {
	cfg := config{logger: slog.Default(), keySize: signer.DefaultKeySize}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if path == "" {
		cfg.logger.Warn("no key path specified, private key will not be loaded from or saved to a file")
		return generate(cfg)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return load(path, data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, &KeyError{Kind: ErrKeyUnreadable, Path: path, Err: errors.Wrap(err, "reading key file")}
	}

	kp, err := generate(cfg)
	if err != nil {
		return nil, err
	}
	if err := save(path, kp.Signer); err != nil {
		return nil, &KeyError{Kind: ErrKeyUnwritable, Path: path, Err: err}
	}
	kp.SavedPath = path
	cfg.logger.Info("created private key", "path", path)
	return kp, nil
}

func generate(cfg config) (*KeyPair, error) {
	s, err := signer.GenerateWithSize(cfg.keySize)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Signer: s, Created: true}, nil
}

func load(path string, data []byte) (*KeyPair, error) {
	s, err := signer.Decode(data)
	if err != nil {
		return nil, &KeyError{Kind: ErrKeyUnreadable, Path: path, Err: errors.WithStack(err)}
	}
	return &KeyPair{Signer: s}, nil
}

// save writes the key with O_EXCL so that a file created concurrently by
// someone else is left alone.
func save(path string, s principal.Signer) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrap(err, "creating key file")
	}

	_, err = f.Write(s.Encode())
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A truncated key file would make every later run fail as unreadable.
		_ = os.Remove(path)
		return errors.Wrap(err, "writing key file")
	}
	return nil
}
