package fileserver

import "sync"

// Registry maps served identifiers to local paths. Serving is strictly
// by-id lookup: nothing outside these maps is ever exposed.
type Registry struct {
	mu      sync.RWMutex
	files   map[string]string
	avatars map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		files:   make(map[string]string),
		avatars: make(map[string]string),
	}
}

func (r *Registry) RegisterFile(fileID, path string) {
	if fileID == "" || path == "" {
		return
	}
	r.mu.Lock()
	r.files[fileID] = path
	r.mu.Unlock()
}

func (r *Registry) FilePath(fileID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.files[fileID]
	return path, ok
}

func (r *Registry) RegisterAvatar(sha256, path string) {
	if sha256 == "" || path == "" {
		return
	}
	r.mu.Lock()
	r.avatars[sha256] = path
	r.mu.Unlock()
}

func (r *Registry) AvatarPath(sha256 string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.avatars[sha256]
	return path, ok
}
