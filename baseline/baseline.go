package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SchemaVersion is bumped whenever the on-disk layout changes. A file with a
// different version is treated like a corrupt file: reset to empty.
const SchemaVersion = 1

// Entry is the persisted fingerprint of one flagged rule.
type Entry struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// Baseline is the last-known snapshot of flagged rules: mailbox → ruleId →
// entry. At most one entry per ruleId per mailbox; a missing mailbox key
// means no flagged rules were recorded for it last run.
type Baseline struct {
	Version   int                         `json:"version"`
	Generated time.Time                   `json:"generated"`
	Mailboxes map[string]map[string]Entry `json:"mailboxes"`
}

// New returns an empty baseline at the current schema version.
func New() *Baseline {
	return &Baseline{
		Version:   SchemaVersion,
		Mailboxes: make(map[string]map[string]Entry),
	}
}

// Lookup returns the stored entry for a (mailbox, ruleId) pair.
func (b *Baseline) Lookup(mailbox, ruleID string) (Entry, bool) {
	rules, ok := b.Mailboxes[mailbox]
	if !ok {
		return Entry{}, false
	}
	entry, ok := rules[ruleID]
	return entry, ok
}

// Set records the entry for a (mailbox, ruleId) pair, replacing any prior
// hash for the same rule.
func (b *Baseline) Set(mailbox string, entry Entry) {
	rules, ok := b.Mailboxes[mailbox]
	if !ok {
		rules = make(map[string]Entry)
		b.Mailboxes[mailbox] = rules
	}
	rules[entry.ID] = entry
}

// MailboxNames returns the recorded mailbox addresses in ascending order.
func (b *Baseline) MailboxNames() []string {
	names := make([]string, 0, len(b.Mailboxes))
	for name := range b.Mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store loads and saves the baseline file.
type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("baseline path is empty")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the baseline file. A missing, unreadable, unparseable or
// version-mismatched file yields an empty baseline with reset=true, which
// forces full-scan mode upstream; Load never fails the run.
func (s *Store) Load() (b *Baseline, reset bool, err error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), true, nil
	}
	if err != nil {
		return New(), true, fmt.Errorf("read baseline file: %w", err)
	}

	var loaded Baseline
	if err := json.Unmarshal(data, &loaded); err != nil {
		return New(), true, fmt.Errorf("parse baseline file: %w", err)
	}
	if loaded.Version != SchemaVersion {
		return New(), true, fmt.Errorf("baseline schema version %d, want %d", loaded.Version, SchemaVersion)
	}
	if loaded.Mailboxes == nil {
		loaded.Mailboxes = make(map[string]map[string]Entry)
	}
	return &loaded, false, nil
}

// Save replaces the baseline file atomically: the full snapshot is written
// to a temp file in the same directory and renamed over the old one. Called
// exactly once per run, after all mailboxes have been processed.
func (s *Store) Save(b *Baseline) error {
	b.Version = SchemaVersion
	b.Generated = time.Now().UTC()

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".baseline-*.json")
	if err != nil {
		return fmt.Errorf("create baseline temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close baseline temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace baseline file: %w", err)
	}
	return nil
}
