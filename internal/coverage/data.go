// Package coverage reads, merges and writes JaCoCo execution data.
package coverage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrIncompatible is returned when merging execution data for the same class
// id whose name or probe count differ.
var ErrIncompatible = errors.New("incompatible execution data")

// SessionInfo identifies one recording session.
type SessionInfo struct {
	ID    string
	Start int64 // epoch millis
	Dump  int64 // epoch millis
}

// ExecutionData holds the probe hits recorded for one class.
type ExecutionData struct {
	ID     int64
	Name   string
	Probes []bool
}

// Clone returns a copy that shares no memory with d.
func (d ExecutionData) Clone() ExecutionData {
	probes := make([]bool, len(d.Probes))
	copy(probes, d.Probes)
	return ExecutionData{ID: d.ID, Name: d.Name, Probes: probes}
}

// Covered returns the number of probes hit.
func (d ExecutionData) Covered() int {
	n := 0
	for _, p := range d.Probes {
		if p {
			n++
		}
	}
	return n
}

// HasHits reports whether at least one probe was hit.
func (d ExecutionData) HasHits() bool {
	for _, p := range d.Probes {
		if p {
			return true
		}
	}
	return false
}

// merge ORs other's probes into d.
func (d *ExecutionData) merge(other ExecutionData) error {
	if d.Name != other.Name || len(d.Probes) != len(other.Probes) {
		return fmt.Errorf("%w: class %016x: %s/%d probes vs %s/%d probes",
			ErrIncompatible, d.ID, d.Name, len(d.Probes), other.Name, len(other.Probes))
	}
	for i, p := range other.Probes {
		if p {
			d.Probes[i] = true
		}
	}
	return nil
}

// Store maps class ids to execution data. The first data put for a class id
// is kept as given; later puts for the same id are merged into it in place.
// It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[int64]*ExecutionData
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[int64]*ExecutionData)}
}

// Put inserts d or merges it into the entry with the same id.
func (s *Store) Put(d ExecutionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[d.ID]; ok {
		return existing.merge(d)
	}
	s.entries[d.ID] = &d
	return nil
}

// Get returns a copy of the data stored for id.
func (s *Store) Get(id int64) (ExecutionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.entries[id]
	if !ok {
		return ExecutionData{}, false
	}
	return d.Clone(), true
}

// Len returns the number of classes in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Contents returns copies of all entries ordered by class name, then id.
func (s *Store) Contents() []ExecutionData {
	s.mu.Lock()
	out := make([]ExecutionData, 0, len(s.entries))
	for _, d := range s.entries {
		out = append(out, d.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Summary counts probes over a store.
type Summary struct {
	Classes int `json:"classes" yaml:"classes"`
	Probes  int `json:"probes" yaml:"probes"`
	Covered int `json:"covered" yaml:"covered"`
}

// Ratio returns the covered share of probes, or 0 for an empty summary.
func (s Summary) Ratio() float64 {
	if s.Probes == 0 {
		return 0
	}
	return float64(s.Covered) / float64(s.Probes)
}

// Summarize counts the classes and probes in s.
func (s *Store) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum Summary
	for _, d := range s.entries {
		sum.Classes++
		sum.Probes += len(d.Probes)
		sum.Covered += d.Covered()
	}
	return sum
}
