package coverage

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned for class data that arrives before any session.
var ErrNoSession = errors.New("class execution data before session info")

// Visitor receives the events decoded from an execution data file.
type Visitor interface {
	VisitSession(info SessionInfo) error
	VisitClass(data ExecutionData) error
}

// Merger collects execution data per session and merged across all sessions.
// Sessions with the same id share one store. Each class event is stored
// as given in its session and as a copy in the merged store; the two never
// share probe slices.
type Merger struct {
	sessions map[string]*Store
	order    []string
	current  *Store
	merged   *Store
}

// NewMerger returns an empty Merger.
func NewMerger() *Merger {
	return &Merger{
		sessions: make(map[string]*Store),
		merged:   NewStore(),
	}
}

// VisitSession makes the store for info.ID current, creating it on first
// reference.
func (m *Merger) VisitSession(info SessionInfo) error {
	s, ok := m.sessions[info.ID]
	if !ok {
		s = NewStore()
		m.sessions[info.ID] = s
		m.order = append(m.order, info.ID)
	}
	m.current = s
	return nil
}

// VisitClass adds data to the current session and to the merged store.
func (m *Merger) VisitClass(data ExecutionData) error {
	if m.current == nil {
		return fmt.Errorf("%w: class %s", ErrNoSession, data.Name)
	}
	if err := m.current.Put(data); err != nil {
		return err
	}
	return m.merged.Put(data.Clone())
}

// Sessions returns the per-session stores keyed by session id.
func (m *Merger) Sessions() map[string]*Store {
	return m.sessions
}

// SessionIDs returns session ids in order of first appearance.
func (m *Merger) SessionIDs() []string {
	return m.order
}

// Merged returns the store holding data merged across all sessions.
func (m *Merger) Merged() *Store {
	return m.merged
}
