// Package memstore is an in-process implementation of the approval
// persistence ports. It backs STORE_DRIVER=memory and the service tests.
package memstore

import (
	"sync"
	"time"

	"github.com/pesio-ai/be-doc-approvals/internal/repository"
)

type docKey struct{ docType, docID string }

type decisionKey struct{ assignmentID, approverID string }

type tableRow struct{ table, id string }

// Document is a row of a business-document table as far as approvals care.
type Document struct {
	Status     string
	ApprovalID *string
}

// Store holds all tables behind one mutex. Each facet (Assignments,
// Decisions, ...) implements one persistence port.
type Store struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time

	assignments map[string]*repository.Assignment
	byDocument  map[docKey]string
	decisions   map[decisionKey]*repository.Decision
	history     []*repository.StatusHistoryEntry
	rules       map[string]*repository.ApprovalRule
	profiles    map[string]*repository.Profile
	documents   map[tableRow]*Document
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. Stamps stay strictly increasing regardless.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		assignments: make(map[string]*repository.Assignment),
		byDocument:  make(map[docKey]string),
		decisions:   make(map[decisionKey]*repository.Decision),
		rules:       make(map[string]*repository.ApprovalRule),
		profiles:    make(map[string]*repository.Profile),
		documents:   make(map[tableRow]*Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp returns the current time, nudged forward so no two writes share a
// timestamp. Callers hold s.mu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) Assignments() *Assignments { return &Assignments{s: s} }
func (s *Store) Decisions() *Decisions     { return &Decisions{s: s} }
func (s *Store) History() *History         { return &History{s: s} }
func (s *Store) Rules() *Rules             { return &Rules{s: s} }
func (s *Store) Documents() *Documents     { return &Documents{s: s} }
func (s *Store) Profiles() *Profiles       { return &Profiles{s: s} }

// SetDocument seeds a business-document row.
func (s *Store) SetDocument(table, id string, doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := doc
	s.documents[tableRow{table, id}] = &d
}

// Document returns a copy of a business-document row.
func (s *Store) Document(table, id string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[tableRow{table, id}]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

// AddProfile seeds the profile directory.
func (s *Store) AddProfile(p repository.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = &p
}
