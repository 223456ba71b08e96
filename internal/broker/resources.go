package broker

import (
	"sync"
	"sync/atomic"

	"github.com/tourlab/termbroker/internal/terminal"
)

// ptyResource holds the live OS side of a session. proc is the writer, the
// child handle and the master controller in one.
type ptyResource struct {
	proc terminal.Process
	// sess is the TerminalSession created in the same step.
	sess *TerminalSession
	// destroyed is set once an explicit destroy has claimed the resource;
	// output still draining from the reader is dropped after that.
	destroyed atomic.Bool
}

// resourceTable maps session ids to their ptyResource.
type resourceTable struct {
	mu        sync.RWMutex
	resources map[string]*ptyResource
}

func newResourceTable() *resourceTable {
	return &resourceTable{resources: make(map[string]*ptyResource)}
}

func (t *resourceTable) get(id string) (*ptyResource, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.resources[id]
	return r, ok
}

// removeIf deletes id only while it still maps to res.
func (t *resourceTable) removeIf(id string, res *ptyResource) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.resources[id]; ok && cur == res {
		delete(t.resources, id)
		return true
	}
	return false
}

func (t *resourceTable) ids() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.resources))
	for id := range t.resources {
		ids = append(ids, id)
	}
	return ids
}

func (t *resourceTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.resources)
}
