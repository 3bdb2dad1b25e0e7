// Package state persists which functions earlier runs instrumented.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/autotrace-dev/autotrace/internal/fileutil"
)

const (
	DefaultDir          = ".autotrace"
	StateFile           = "state.json"
	CurrentStateVersion = "1"
)

// NodeRecord identifies one instrumented function.
type NodeRecord struct {
	ID            string `json:"id"`
	QualifiedName string `json:"qualified_name"`
}

// FileState tracks the instrumented functions of a single file
type FileState struct {
	Hash           string       `json:"hash"`
	Nodes          []NodeRecord `json:"nodes"`
	InstrumentedAt time.Time    `json:"instrumented_at"`
}

// State is the content of <root>/.autotrace/state.json
type State struct {
	Version     string               `json:"version"`
	UpdatedAt   time.Time            `json:"updated_at"`
	LastSession string               `json:"last_session,omitempty"`
	Files       map[string]FileState `json:"files"`
}

// NewState creates a new empty state
func NewState() *State {
	return &State{
		Version: CurrentStateVersion,
		Files:   make(map[string]FileState),
	}
}

// Path returns the state file location inside dir.
func Path(dir string) string {
	return filepath.Join(dir, StateFile)
}

// ErrCorrupt wraps a state file that exists but cannot be decoded.
type ErrCorrupt struct {
	Path string
	Err  error
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Err)
}

func (e *ErrCorrupt) Unwrap() error {
	return e.Err
}

// Load reads the state file in dir. A missing file yields an empty state. A
// corrupt file yields an empty state together with an *ErrCorrupt so callers
// can warn and continue.
func Load(dir string) (*State, error) {
	path := Path(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return NewState(), &ErrCorrupt{Path: path, Err: err}
	}

	migrateState(&state)

	return &state, nil
}

// Save writes the state file in dir, merging with records written since Load
// by another run.
func (s *State) Save(dir string) error {
	if s.Version == "" {
		s.Version = CurrentStateVersion
	}
	if s.Files == nil {
		s.Files = make(map[string]FileState)
	}

	if onDisk, err := Load(dir); err == nil {
		for file, fs := range onDisk.Files {
			if _, ok := s.Files[file]; !ok {
				s.Files[file] = fs
			}
		}
	}

	s.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	_, err = fileutil.WriteIfChanged(Path(dir), data)
	return err
}

// Record stores the functions instrumented in file, whose new content hashes
// to hash. Functions recorded by earlier runs are kept.
func (s *State) Record(file, hash string, nodes []NodeRecord, at time.Time) {
	merged := make(map[string]NodeRecord)
	for _, n := range s.Files[file].Nodes {
		merged[n.ID] = n
	}
	for _, n := range nodes {
		merged[n.ID] = n
	}

	records := make([]NodeRecord, 0, len(merged))
	for _, id := range fileutil.MapKeysSorted(merged) {
		records = append(records, merged[id])
	}
	s.Files[file] = FileState{Hash: hash, Nodes: records, InstrumentedAt: at.UTC()}
}

// Instrumented reports whether a function was recorded for file while it had
// hash, matching by id or qualified name. A changed hash voids the record; the
// source markers decide instead.
func (s *State) Instrumented(file, id, qualifiedName, hash string) bool {
	fs, ok := s.Files[file]
	if !ok || fs.Hash != hash {
		return false
	}
	for _, n := range fs.Nodes {
		if n.ID == id || (qualifiedName != "" && n.QualifiedName == qualifiedName) {
			return true
		}
	}
	return false
}

// GetFileHash returns the stored hash for a file
func (s *State) GetFileHash(file string) (string, bool) {
	fs, ok := s.Files[file]
	if !ok {
		return "", false
	}
	return fs.Hash, true
}

// HasChanged returns true if the file hash differs from stored
func (s *State) HasChanged(file, currentHash string) bool {
	storedHash, ok := s.GetFileHash(file)
	if !ok {
		return true
	}
	return storedHash != currentHash
}

// ChangedFiles returns recorded files whose current hash differs from the
// stored one, or that no longer exist.
func (s *State) ChangedFiles(currentHashes map[string]string) []string {
	changed := make([]string, 0)
	for file := range s.Files {
		hash, ok := currentHashes[file]
		if !ok || s.HasChanged(file, hash) {
			changed = append(changed, file)
		}
	}
	sort.Strings(changed)
	return changed
}

// RemoveFile removes a file from state tracking
func (s *State) RemoveFile(file string) {
	delete(s.Files, file)
}

// NodeCount returns the number of recorded functions.
func (s *State) NodeCount() int {
	total := 0
	for _, fs := range s.Files {
		total += len(fs.Nodes)
	}
	return total
}

func migrateState(s *State) {
	if s.Files == nil {
		s.Files = make(map[string]FileState)
	}

	switch s.Version {
	case "":
		s.Version = CurrentStateVersion
	case CurrentStateVersion:
		// no-op
	default:
		// Keep unknown versions untouched but ensure required maps are initialized.
	}
}
