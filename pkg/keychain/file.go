package keychain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// SecretFileName holds the random secret every vault key is derived from.
	SecretFileName = ".keychain-key"

	vaultFilePrefix = "keychain-"
	vaultFileSuffix = ".enc"

	privateDirPerm  = 0o700
	privateFilePerm = 0o600
	maxSecretSize   = 4096
	maxVaultSize    = 1 << 20 // 1 MiB
	vaultVersion    = 1
)

var (
	errUnsafePath    = errors.New("unsafe keychain path")
	errInvalidSecret = errors.New("invalid keychain secret")
)

// FileStore persists items in an AES-GCM encrypted vault file, one per
// service, inside a directory kept apart from regular application data.
type FileStore struct {
	dir     string
	service string

	mu sync.Mutex
}

var _ Backend = (*FileStore)(nil)

type vaultItem struct {
	Data      string `json:"data"` // base64
	UpdatedAt int64  `json:"updated_at"`
}

type vault struct {
	Version int                  `json:"version"`
	Service string               `json:"service"`
	Items   map[string]vaultItem `json:"items"`
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir, service string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("keychain directory cannot be empty")
	}
	return &FileStore{
		dir:     filepath.Clean(dir),
		service: service,
	}, nil
}

// Read implements Store.
func (s *FileStore) Read(account string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.loadVault()
	if err != nil {
		if !isMissingPathError(err) {
			logStorageFailure("read", s.service, account, err)
		}
		return nil, false
	}

	item, ok := v.Items[account]
	if !ok {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(item.Data)
	if err != nil {
		logStorageFailure("read", s.service, account, fmt.Errorf("decode item: %w", err))
		return nil, false
	}
	return data, true
}

// Upsert implements Store.
func (s *FileStore) Upsert(account string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.upsertLocked(account, data); err != nil {
		logStorageFailure("upsert", s.service, account, err)
	}
}

// Close implements Backend.
func (s *FileStore) Close() error { return nil }

// VaultPath returns the vault file used for this store's service.
func (s *FileStore) VaultPath() string {
	sum := sha256.Sum256([]byte(s.service))
	return filepath.Join(s.dir, vaultFilePrefix+hex.EncodeToString(sum[:8])+vaultFileSuffix)
}

func (s *FileStore) upsertLocked(account string, data []byte) error {
	secret, err := s.ensureSecret()
	if err != nil {
		return fmt.Errorf("ensure keychain secret: %w", err)
	}

	v, err := s.loadVault()
	if err != nil {
		if !isMissingPathError(err) {
			logStorageFailure("load", s.service, account, fmt.Errorf("replacing unreadable vault: %w", err))
		}
		v = nil
	}
	if v == nil {
		v = &vault{Version: vaultVersion, Service: s.service, Items: map[string]vaultItem{}}
	}

	v.Items[account] = vaultItem{
		Data:      base64.StdEncoding.EncodeToString(data),
		UpdatedAt: time.Now().Unix(),
	}

	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	key, err := s.deriveKey(secret)
	if err != nil {
		return err
	}
	ciphertext, err := encrypt(key, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	if err := writeOwnerOnlyFileAtomic(s.VaultPath(), []byte(encoded)); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}

func (s *FileStore) loadVault() (*vault, error) {
	secret, err := loadSecret(s.dir)
	if err != nil {
		return nil, err
	}

	encoded, err := readBoundedRegularFile(s.VaultPath(), maxVaultSize)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("decode vault: %w", err)
	}

	key, err := s.deriveKey(secret)
	if err != nil {
		return nil, err
	}
	plaintext, err := decrypt(key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}

	var v vault
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	if v.Service != s.service {
		return nil, fmt.Errorf("vault belongs to service %q", v.Service)
	}
	if v.Items == nil {
		v.Items = map[string]vaultItem{}
	}
	return &v, nil
}

// ensureSecret loads the directory secret, creating it on first write.
func (s *FileStore) ensureSecret() ([]byte, error) {
	secret, err := loadSecret(s.dir)
	if err == nil {
		return secret, nil
	}
	if !isMissingPathError(err) {
		return nil, err
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	encoded := hex.EncodeToString(raw)
	if err := writeOwnerOnlyFileAtomic(filepath.Join(s.dir, SecretFileName), []byte(encoded)); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return raw, nil
}

func loadSecret(dir string) ([]byte, error) {
	data, err := readBoundedRegularFile(filepath.Join(dir, SecretFileName), maxSecretSize)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(secret) < 16 {
		return nil, fmt.Errorf("%w: malformed secret file", errInvalidSecret)
	}
	return secret, nil
}

// deriveKey derives the per-service AES-256 key from the directory secret.
func (s *FileStore) deriveKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte("woodenfish-keychain/"+s.service))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return key, nil
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: got %d bytes, need at least %d", len(ciphertext), gcm.NonceSize())
	}
	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func isMissingPathError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func ensureOwnerOnlyDir(dir string) error {
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return err
	}
	return os.Chmod(dir, privateDirPerm)
}

func validateRegularFile(path string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: refusing symlink path %q", errUnsafePath, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: non-regular path %q", errUnsafePath, path)
	}
	return nil
}

func readBoundedRegularFile(path string, maxSize int64) ([]byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if err := validateRegularFile(path, info); err != nil {
		return nil, err
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("%w: file %q exceeds size limit (%d bytes)", errUnsafePath, path, info.Size())
	}
	return os.ReadFile(path)
}

func writeOwnerOnlyFileAtomic(path string, data []byte) error {
	if err := ensureOwnerOnlyDir(filepath.Dir(path)); err != nil {
		return err
	}

	if info, err := os.Lstat(path); err == nil {
		if err := validateRegularFile(path, info); err != nil {
			return err
		}
	} else if !isMissingPathError(err) {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(privateFilePerm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
