package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weiihann/addrcheck/address"
)

// Entry pairs a row index with its outcome.
type Entry struct {
	Index   int
	Outcome address.Outcome
}

// ResultMap collects outcomes by row index. Each index may be stored once;
// concurrent stores for distinct indices are safe. Read it only after the
// dispatcher has returned.
type ResultMap struct {
	mu      sync.Mutex
	entries map[int]address.Outcome
}

// NewResultMap creates a map sized for n rows.
func NewResultMap(n int) *ResultMap {
	return &ResultMap{entries: make(map[int]address.Outcome, n)}
}

// Store records the outcome for index. A second store for the same index
// is rejected and leaves the first outcome in place.
func (m *ResultMap) Store(index int, outcome address.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[index]; ok {
		return fmt.Errorf("row %d already has a result", index)
	}

	m.entries[index] = outcome

	return nil
}

// Len returns the number of stored outcomes.
func (m *ResultMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Get returns the outcome stored for index.
func (m *ResultMap) Get(index int) (address.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.entries[index]

	return o, ok
}

// Drain returns every entry in ascending index order.
func (m *ResultMap) Drain() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for idx, o := range m.entries {
		out = append(out, Entry{Index: idx, Outcome: o})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out
}

// Tally counts the stored outcomes by error kind.
func (m *ResultMap) Tally() address.Tally {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := make(address.Tally)
	for _, o := range m.entries {
		t[o.Kind]++
	}

	return t
}
