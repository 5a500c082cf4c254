package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/vaultsync/pkg/vault"
)

const (
	stateFile  = "state.json"
	historyDir = "history"

	historyTimeFormat = "20060102-150405.000000000"
)

// FileStore keeps state in a directory of JSON files.
type FileStore struct {
	baseDir string

	mu   sync.RWMutex
	snap Snapshot
}

// DefaultStateDir returns the default state directory
func DefaultStateDir() string {
	if dir := os.Getenv("VAULTSYNC_STATE_DIR"); dir != "" {
		return dir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "vaultsync")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "vaultsync")
	}

	return filepath.Join(os.TempDir(), "vaultsync")
}

// Open loads the state in baseDir, starting from defaults when none was
// saved yet.
func Open(baseDir string) (*FileStore, error) {
	fs := &FileStore{
		baseDir: baseDir,
		snap:    Snapshot{Encryption: vault.EncryptionSystem},
	}

	data, err := os.ReadFile(filepath.Join(baseDir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &fs.snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if fs.snap.Encryption == "" {
		fs.snap.Encryption = vault.EncryptionSystem
	}
	return fs, nil
}

// Dir returns the directory the store writes to.
func (fs *FileStore) Dir() string {
	return fs.baseDir
}

// Snapshot returns a copy of the persisted flags.
func (fs *FileStore) Snapshot() Snapshot {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap
}

// MigratedToV3 reports whether this device already runs on the unified
// generation.
func (fs *FileStore) MigratedToV3() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap.MigratedToV3
}

// SetMigratedToV3 persists the migrated flag.
func (fs *FileStore) SetMigratedToV3(v bool) error {
	return fs.update(func(s *Snapshot) { s.MigratedToV3 = v })
}

// RotationRequired reports whether a credential re-encryption is pending.
func (fs *FileStore) RotationRequired() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap.RotationRequired
}

// SetRotationRequired persists the rotation latch.
func (fs *FileStore) SetRotationRequired(v bool) error {
	return fs.update(func(s *Snapshot) { s.RotationRequired = v })
}

// Encryption returns the active encryption scheme.
func (fs *FileStore) Encryption() vault.EncryptionType {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.snap.Encryption
}

// SetEncryption persists the active encryption scheme.
func (fs *FileStore) SetEncryption(t vault.EncryptionType) error {
	return fs.update(func(s *Snapshot) { s.Encryption = t })
}

// Reset forgets every flag. History is kept.
func (fs *FileStore) Reset() error {
	return fs.update(func(s *Snapshot) {
		*s = Snapshot{Encryption: vault.EncryptionSystem}
	})
}

func (fs *FileStore) update(fn func(*Snapshot)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	next := fs.snap
	fn(&next)
	next.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(fs.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a torn file.
	tmp, err := os.CreateTemp(fs.baseDir, stateFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(fs.baseDir, stateFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	fs.snap = next
	return nil
}

// SaveHistory saves a cycle history entry
func (fs *FileStore) SaveHistory(entry *HistoryEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, historyDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%d-%s", entry.Timestamp.UnixNano(), sanitizeFilename(entry.Zone))
	}

	filename := filepath.Join(dir, entry.Timestamp.Format(historyTimeFormat)+".json")
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}

	return nil
}

// History returns up to limit entries, newest first. A limit <= 0 returns
// everything.
func (fs *FileStore) History(limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := filepath.Join(fs.baseDir, historyDir)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	// Filenames sort chronologically
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() > files[j].Name()
	})

	entries := []HistoryEntry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	return entries, nil
}

// CleanupOldEntries removes history entries older than the specified duration
func (fs *FileStore) CleanupOldEntries(olderThan time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, historyDir)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ts, err := time.Parse(historyTimeFormat, strings.TrimSuffix(name, ".json"))
		if err != nil || !ts.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to remove history file %s: %w", name, err)
		}
	}
	return nil
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
