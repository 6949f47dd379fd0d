package credstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	cc "github.com/and161185/petmem/internal/crypto/clientcrypto"
)

const (
	keyringFile  = "keyring.json"
	deviceSecret = "device.secret"
	entriesDir   = "entries"
)

// ErrLocked is returned when the keyring cannot be unwrapped with the configured secret.
var ErrLocked = errors.New("credstore: keyring locked (wrong passphrase or corrupted keyring)")

type keyring struct {
	Version int `json:"version"`
	cc.Wrapped
}

// FileStore is a Store backed by one encrypted file per key.
//
// Layout under dir (0700):
//   - keyring.json: KEK salt and the DEK wrapped by KEK = Argon2id(secret, salt)
//   - device.secret: random secret used when no passphrase is configured
//   - entries/<sha256(key)>: nonce||AEAD(HKDF(DEK, key), value, aad=key)
//
// Every write goes to a temp file that is fsynced and renamed into place.
type FileStore struct {
	dir string
	dek []byte
	log *zap.Logger

	mu sync.Mutex
}

// Open loads or initialises the keyring in dir. An empty passphrase uses a device secret file.
func Open(dir string, passphrase []byte, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, entriesDir), 0o700); err != nil {
		return nil, fmt.Errorf("credstore: mkdir: %w", err)
	}
	// MkdirAll keeps existing modes; tighten in case the dir predates us.
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: chmod: %w", err)
	}

	secret := passphrase
	if len(secret) == 0 {
		s, err := loadOrCreateSecret(filepath.Join(dir, deviceSecret))
		if err != nil {
			return nil, err
		}
		secret = s
	}

	dek, err := loadOrCreateKeyring(filepath.Join(dir, keyringFile), secret)
	if err != nil {
		return nil, err
	}
	log.Debug("credstore opened", zap.String("dir", dir), zap.Bool("passphrase", len(passphrase) > 0))
	return &FileStore{dir: dir, dek: dek, log: log}, nil
}

// Put encrypts and atomically writes value under key.
func (s *FileStore) Put(key, value string) error {
	blob, err := cc.SealEntry(s.dek, key, []byte(value))
	if err != nil {
		return fmt.Errorf("credstore: seal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.entryPath(key), blob); err != nil {
		return fmt.Errorf("credstore: put %s: %w", key, err)
	}
	return nil
}

// Get reads and decrypts key. A missing entry is ok=false with a nil error.
func (s *FileStore) Get(key string) (string, bool, error) {
	blob, err := os.ReadFile(s.entryPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credstore: get %s: %w", key, err)
	}
	pt, err := cc.OpenEntry(s.dek, key, blob)
	if err != nil {
		return "", false, fmt.Errorf("credstore: open %s: %w", key, err)
	}
	return string(pt), true, nil
}

// Delete removes key; a missing entry is not an error.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.entryPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: delete %s: %w", key, err)
	}
	return syncDir(filepath.Join(s.dir, entriesDir))
}

func (s *FileStore) entryPath(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, entriesDir, hex.EncodeToString(h[:]))
}

func loadOrCreateSecret(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) > 0 {
		return b, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("credstore: read device secret: %w", err)
	}
	b, err = cc.Rand(cc.KeyLen)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, b); err != nil {
		return nil, fmt.Errorf("credstore: write device secret: %w", err)
	}
	return b, nil
}

func loadOrCreateKeyring(path string, secret []byte) ([]byte, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var kr keyring
		if err := json.Unmarshal(raw, &kr); err != nil {
			return nil, fmt.Errorf("credstore: parse keyring: %w", err)
		}
		dek, err := kr.Unwrap(secret)
		if err != nil {
			return nil, ErrLocked
		}
		return dek, nil
	case errors.Is(err, fs.ErrNotExist):
		// first run → generate DEK, wrap, persist
	default:
		return nil, fmt.Errorf("credstore: read keyring: %w", err)
	}

	dek, wrapped, err := cc.NewDataKey(secret)
	if err != nil {
		return nil, err
	}
	raw, err = json.Marshal(keyring{Version: 1, Wrapped: wrapped})
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, raw); err != nil {
		return nil, fmt.Errorf("credstore: write keyring: %w", err)
	}
	return dek, nil
}

// writeAtomic replaces path with data so that a crash leaves either the old or the new content.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if err = f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse directory fsync; the rename already happened.
	_ = d.Sync()
	return nil
}
