// Package keychain provides a small durable key-value store for secrets that
// must outlive the application's own data directory, such as entitlement
// flags and the trial clock.
//
// Items are addressed by (service, account). A store instance is bound to one
// service; callers only pass the account. Read and write failures are logged
// and never returned: an unreadable item is indistinguishable from a missing
// one.
package keychain

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	perrors "github.com/gunmm/woodenfish/internal/errors"
)

// DefaultService is the service name items are filed under when none is configured.
const DefaultService = "com.gunmm.Microphone"

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Store is a durable (service-scoped) key-value store.
type Store interface {
	// Read returns the stored bytes for account, or false if absent or unreadable.
	Read(account string) ([]byte, bool)
	// Upsert updates the item in place if present, otherwise inserts it.
	Upsert(account string, data []byte)
}

// Backend is a Store that holds resources.
type Backend interface {
	Store
	Close() error
}

// Open returns the named backend rooted at dir.
func Open(backend, dir, service string) (Backend, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		service = DefaultService
	}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(dir, service)
	case BackendSQLite:
		return OpenSQLite(dir, service)
	case BackendMemory:
		return NewMemoryStore(service), nil
	default:
		return nil, fmt.Errorf("unknown keychain backend %q", backend)
	}
}

func logStorageFailure(op, service, account string, err error) {
	log.Warn().
		Err(perrors.StorageUnavailable(op, err)).
		Str("service", service).
		Str("account", account).
		Msg("Keychain operation failed; treating item as absent")
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}
