// Package identity persists the distributed-id to mainframe-id table as an
// AES-256-CBC encrypted flat file. The table is bounded by the number of
// known chat users, so every mutation rewrites the whole file synchronously.
package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var errBadPadding = errors.New("invalid ciphertext padding")

// FileStore maps distributed user ids to mainframe user ids. Concurrent use
// is safe; each operation holds the store lock for its full duration so the
// in-memory table and the file never diverge.
type FileStore struct {
	mu     sync.Mutex
	path   string
	key    []byte
	iv     []byte
	users  map[string]string
	logger *slog.Logger
}

// NewFileStore opens or creates the mapping file. An unreadable or
// unwritable file is a startup error: the store cannot guarantee durability
// of future mappings without it.
func NewFileStore(path string, key, iv []byte, logger *slog.Logger) (*FileStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("mapping store needs a 32 byte key, got %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("mapping store needs a %d byte iv, got %d", aes.BlockSize, len(iv))
	}
	store := &FileStore{
		path:   path,
		key:    key,
		iv:     iv,
		users:  map[string]string{},
		logger: logger,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create mapping file directory: %w", err)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := store.write(); err != nil {
			return nil, err
		}
	}
	logger.Info("user mapping store initialized", "path", path, "entries", len(store.users))
	return store, nil
}

// GetUser returns the mainframe id mapped to the distributed id, or "".
func (s *FileStore) GetUser(distributedID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[distributedID]
}

// UserExists reports whether a mapping entry exists for the distributed id.
func (s *FileStore) UserExists(distributedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[distributedID]
	return ok
}

// MapUser records the pairing and rewrites the encrypted file.
func (s *FileStore) MapUser(distributedID, mainframeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[distributedID] = mainframeID
	s.logger.Debug("mapping user", "distributed_id", distributedID, "mainframe_id", mainframeID)
	return s.write()
}

// RemoveUser deletes the pairing and rewrites the encrypted file.
func (s *FileStore) RemoveUser(distributedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, distributedID)
	return s.write()
}

// Reload replaces the in-memory table from the file. Used when the file is
// replaced out of band, e.g. restored from a backup.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads and decrypts the file into s.users. Caller holds the lock on
// every path except construction, where the store is not yet shared.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mapping file %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		s.users = map[string]string{}
		return nil
	}
	ciphertext, err := hex.DecodeString(string(raw))
	if err != nil {
		return fmt.Errorf("decode mapping file %s: %w", s.path, err)
	}
	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt mapping file %s: %w", s.path, err)
	}
	users := map[string]string{}
	if err := json.Unmarshal(plaintext, &users); err != nil {
		return fmt.Errorf("parse mapping file %s: %w", s.path, err)
	}
	s.users = users
	return nil
}

func (s *FileStore) write() error {
	plaintext, err := json.Marshal(s.users)
	if err != nil {
		return fmt.Errorf("encode user map: %w", err)
	}
	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, []byte(hex.EncodeToString(ciphertext)), 0o600); err != nil {
		return fmt.Errorf("write mapping file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, s.iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func (s *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errBadPadding
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, s.iv).CryptBlocks(plaintext, ciphertext)
	return unpad(plaintext)
}

// PKCS#7 padding, matching the on-disk format produced by the block cipher
// in CBC mode.
func pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errBadPadding
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-padding], nil
}
