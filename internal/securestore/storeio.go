package securestore

import (
	"errors"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data next to path and renames it into place, so a
// reader never observes a partially written file. The parent directory is
// created with 0700.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadMaybeSealed returns the file content, opening it when sealed. Plain
// content is returned as is; sealed content without a passphrase is an error.
func ReadMaybeSealed(path, passphrase, purpose string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !IsSealed(raw) {
		return raw, nil
	}
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	return Open(passphrase, purpose, raw)
}

// WriteMaybeSealed seals data when passphrase is set and writes it atomically with 0600.
func WriteMaybeSealed(path, passphrase, purpose string, data []byte) error {
	if passphrase != "" {
		sealedData, err := Seal(passphrase, purpose, data)
		if err != nil {
			return err
		}
		data = sealedData
	}
	return WriteFileAtomic(path, data, 0o600)
}

var ErrPassphraseRequired = errors.New("securestore data is sealed and no passphrase was given")
