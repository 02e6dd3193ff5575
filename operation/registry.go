package operation

import (
	"sort"
	"sync"
	"time"

	"github.com/martinemde/repoagent/repostore"
)

// FileEntry is the most recent write to a path in this session.
type FileEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRegistry maps paths to the identifier and content of their latest
// write in one session. Only the Executor writes it.
type FileRegistry struct {
	entries map[string]FileEntry
	mu      sync.RWMutex
}

// NewFileRegistry creates an empty registry.
func NewFileRegistry() *FileRegistry {
	return &FileRegistry{entries: make(map[string]FileEntry)}
}

// Get returns the entry for path.
func (r *FileRegistry) Get(path string) (FileEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[repostore.CleanPath(path)]
	return e, ok
}

func (r *FileRegistry) put(path, id, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[repostore.CleanPath(path)] = FileEntry{ID: id, Content: content, CreatedAt: time.Now().UTC()}
}

func (r *FileRegistry) drop(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, repostore.CleanPath(path))
}

func (r *FileRegistry) move(from, to, id, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, repostore.CleanPath(from))
	r.entries[repostore.CleanPath(to)] = FileEntry{ID: id, Content: content, CreatedAt: time.Now().UTC()}
}

func (r *FileRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]FileEntry)
}

// Paths returns the registered paths, sorted.
func (r *FileRegistry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of registered paths.
func (r *FileRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
