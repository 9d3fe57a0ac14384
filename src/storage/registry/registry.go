// Package registry keeps externally supplied Arrow batches that tables with
// an arrow:// storage location read from.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/Blackdeer1524/graphcore/src"
)

const (
	IDPrefix       = "arrow_"
	LocationScheme = "arrow://"
)

var (
	ErrNotRegistered = errors.New("external data is not registered")
	ErrClosed        = errors.New("registry is closed")
	ErrInvalidBatch  = errors.New("batch schema does not match the registered schema")
)

// ids are unique across all registries of the process
var lastID atomic.Uint64

type entry struct {
	schema  *arrow.Schema
	records []arrow.Record
}

func (e *entry) release() {
	for _, r := range e.records {
		r.Release()
	}
	e.records = nil
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	log     src.Logger
}

func New(log src.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Register takes ownership of the records: the registry releases them once
// on Unregister or Close.
func (r *Registry) Register(schema *arrow.Schema, records []arrow.Record) (string, error) {
	for i, rec := range records {
		if !rec.Schema().Equal(schema) {
			return "", fmt.Errorf("%w: batch %d", ErrInvalidBatch, i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}

	id := fmt.Sprintf("%s%d", IDPrefix, lastID.Add(1))
	r.entries[id] = &entry{schema: schema, records: records}

	r.log.Debugw("registered external data", "id", id, "batches", len(records))
	return id, nil
}

// Lookup returns borrowed references. They are valid only while id stays
// registered; use Acquire to keep them longer.
func (r *Registry) Lookup(id string) (*arrow.Schema, []arrow.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	return e.schema, e.records, true
}

// Acquire retains every record of id. The caller owns the returned references
// and must release them.
func (r *Registry) Acquire(id string) (*arrow.Schema, []arrow.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}

	records := make([]arrow.Record, len(e.records))
	for i, rec := range e.records {
		rec.Retain()
		records[i] = rec
	}
	return e.schema, records, nil
}

// Unregister drops id and releases its records. Unknown ids are ignored.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	e.release()

	r.log.Debugw("unregistered external data", "id", id)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Close releases all entries. Later registrations fail.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		e.release()
		delete(r.entries, id)
	}
	r.closed = true
}

func Location(id string) string {
	return LocationScheme + id
}

// ParseLocation extracts the registry id of an arrow:// storage location.
func ParseLocation(location string) (string, bool) {
	id, ok := strings.CutPrefix(location, LocationScheme)
	if !ok || !strings.HasPrefix(id, IDPrefix) {
		return "", false
	}
	return id, true
}
