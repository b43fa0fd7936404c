package infra

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/anr_mon/internal/domain"
)

const (
	keyFileName = "events.key"
	keySize     = 32 // SQLCipher raw key
)

// ErrInvalidKeySize is returned for keys that are not keySize bytes long.
var ErrInvalidKeySize = errors.New("invalid key size")

// FileKeyProvider keeps the event cache key base64-encoded in the data
// directory, mode 0600.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider returns a provider for dataDir. The file is not touched
// until the first read or write.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

func (p *FileKeyProvider) Path() string { return p.keyPath }

func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

func (p *FileKeyProvider) GetKey() ([]byte, error) {
	raw, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(raw)
}

// StoreKey replaces the key file atomically: readers see the old key or the
// new one, never a partial write.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if err := checkKeySize(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	staged := p.keyPath + ".tmp"
	if err := os.WriteFile(staged, encodeKey(key), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(staged, p.keyPath); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}

func encodeKey(key []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(key))
}

// decodeKey tolerates surrounding whitespace, e.g. a newline added by an editor.
func decodeKey(raw []byte) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

func checkKeySize(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), keySize)
	}
	return nil
}

// GenerateKey draws a fresh cache key from crypto/rand.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey loads the cache key from provider, creating and storing one the
// first time the cache is opened.
func EnsureKey(provider domain.KeyProvider, logger *zap.Logger) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	logger.Info("generated event cache key")
	return key, nil
}

var _ domain.KeyProvider = (*FileKeyProvider)(nil)
