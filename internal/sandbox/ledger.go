package sandbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// LedgerFileName is the account ledger kept in the durable data directory.
const LedgerFileName = "sandbox-ledger.jsonl"

// LedgerEntry is one completed purchase on the simulated store account.
type LedgerEntry struct {
	TransactionID string    `json:"transaction_id"`
	ProductID     string    `json:"product_id"`
	PurchasedAt   time.Time `json:"purchased_at"`
	// Finished is set once the app acknowledged the transaction.
	Finished bool `json:"finished"`
}

// Ledger records the purchases made on the simulated store account. With an
// empty path it lives in memory only.
type Ledger struct {
	path    string
	mu      sync.RWMutex
	entries []LedgerEntry
}

// OpenLedger loads the ledger stored in dir. An empty dir gives an in-memory ledger.
func OpenLedger(dir string) (*Ledger, error) {
	l := &Ledger{}
	if dir == "" {
		return l, nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	l.path = filepath.Join(dir, LedgerFileName)

	if err := l.load(); err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return l, nil
}

// Path returns the ledger file, or "" for an in-memory ledger.
func (l *Ledger) Path() string {
	return l.path
}

// Record appends a completed purchase and returns it.
func (l *Ledger) Record(productID string, at time.Time) (LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LedgerEntry{
		TransactionID: ulid.Make().String(),
		ProductID:     productID,
		PurchasedAt:   at.UTC(),
	}
	if err := l.appendToFile(entry); err != nil {
		return LedgerEntry{}, fmt.Errorf("failed to write ledger entry: %w", err)
	}
	l.entries = append(l.entries, entry)

	log.Debug().
		Str("transaction_id", entry.TransactionID).
		Str("product_id", productID).
		Msg("Recorded sandbox purchase")
	return entry, nil
}

// MarkFinished flags the purchase with the given transaction ID as acknowledged.
// It reports whether an unfinished entry was found.
func (l *Ledger) MarkFinished(transactionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].TransactionID != transactionID {
			continue
		}
		if l.entries[i].Finished {
			return false, nil
		}
		l.entries[i].Finished = true
		if err := l.rewriteFile(); err != nil {
			l.entries[i].Finished = false
			return false, fmt.Errorf("failed to update ledger: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// Entries returns every recorded purchase, oldest first.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LedgerEntry(nil), l.entries...)
}

// Unfinished returns purchases the app has not acknowledged yet.
func (l *Ledger) Unfinished() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []LedgerEntry
	for _, e := range l.entries {
		if !e.Finished {
			out = append(out, e)
		}
	}
	return out
}

func (l *Ledger) load() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry LedgerEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Warn().Err(err).Str("path", l.path).Msg("Skipping unreadable ledger entry")
			continue
		}
		l.entries = append(l.entries, entry)
	}
	return scanner.Err()
}

func (l *Ledger) appendToFile(entry LedgerEntry) error {
	if l.path == "" {
		return nil
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return err
	}
	return file.Sync()
}

// rewriteFile replaces the ledger file with the in-memory entries.
func (l *Ledger) rewriteFile() error {
	if l.path == "" {
		return nil
	}

	tempPath := l.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	for _, entry := range l.entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return err
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return err
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, l.path)
}
