package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Record is one project row from the backing tabular source
type Record struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"` // e.g. "active", "archived", "completed"
	LastTouched time.Time `json:"lastTouched"`
	Owner       string    `json:"owner"`
	Tags        []string  `json:"tags"`
}

// RotLevel is a staleness classification derived from elapsed time since a
// record was last touched
type RotLevel string

const (
	RotFresh   RotLevel = "fresh"   // touched within 2 weeks
	RotStale   RotLevel = "stale"   // untouched for 2-8 weeks
	RotRotting RotLevel = "rotting" // untouched for 8-26 weeks
	RotFossil  RotLevel = "fossil"  // untouched for half a year or more
)

// Rot returns the rot level of a record at the given time
func (r Record) Rot(now time.Time) RotLevel {
	age := now.Sub(r.LastTouched)
	switch {
	case age < 14*24*time.Hour:
		return RotFresh
	case age < 56*24*time.Hour:
		return RotStale
	case age < 182*24*time.Hour:
		return RotRotting
	default:
		return RotFossil
	}
}

// IsArchived reports whether the record is archived
func (r Record) IsArchived() bool {
	return strings.EqualFold(r.Status, "archived")
}

// IsCompleted reports whether the record is completed
func (r Record) IsCompleted() bool {
	return strings.EqualFold(r.Status, "completed")
}

// Source provides project rows. The spreadsheet-backed implementation lives
// outside this subsystem; the voice pipeline only depends on this boundary.
type Source interface {
	List(ctx context.Context) ([]Record, error)
}

// Store caches project rows from a Source and answers the queries the voice
// subsystem needs: the conversation snapshot and the history search tool.
type Store struct {
	source Source

	mu      sync.RWMutex
	records []Record
}

// NewStore creates a store over the given source
func NewStore(source Source) *Store {
	return &Store{source: source}
}

// Refresh reloads records from the source
func (s *Store) Refresh(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("projects: no source configured")
	}
	records, err := s.source.List(ctx)
	if err != nil {
		return fmt.Errorf("projects: failed to list records: %w", err)
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

// SetRecords replaces the cached records directly (used by tests and by the
// in-memory source)
func (s *Store) SetRecords(records []Record) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

// Snapshot returns the non-archived, non-completed records for embedding in
// the conversation system instruction
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.IsArchived() || r.IsCompleted() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SearchHistory performs a case-insensitive substring match over name,
// owner, status and tags across ALL records, including archived and
// completed ones. This is the execution boundary for the
// searchProjectHistory tool.
func (s *Store) SearchHistory(query string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var out []Record
	for _, r := range s.records {
		if matches(r, q) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r Record, q string) bool {
	if strings.Contains(strings.ToLower(r.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Owner), q) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Status), q) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// StaticSource is an in-memory Source, useful for tests and local runs
type StaticSource struct {
	Records []Record
}

// List returns the static records
func (s *StaticSource) List(ctx context.Context) ([]Record, error) {
	return s.Records, nil
}

// FileSource reads project rows from a JSON file exported by the dashboard
type FileSource struct {
	Path string
}

// List loads and decodes the file
func (s *FileSource) List(ctx context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("projects: failed to read %s: %w", s.Path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("projects: failed to decode %s: %w", s.Path, err)
	}
	return records, nil
}
