// Package device persists the set of device keys a host will accept. The
// store is a flat JSON map on disk, loaded once at startup and rewritten
// whenever it changes.
package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record describes one authorized device.
type Record struct {
	Key          string    `json:"key"`
	Label        string    `json:"label,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Registry is a mutex-guarded key -> Record map with file persistence.
type Registry struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// Open loads the registry at path, creating an empty one if the file does
// not exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		records: make(map[string]Record),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read device store: %w", err)
	}
	if err := json.Unmarshal(data, &r.records); err != nil {
		return nil, fmt.Errorf("parse device store %s: %w", path, err)
	}
	return r, nil
}

// IsAuthorized reports whether key belongs to a registered device.
func (r *Registry) IsAuthorized(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[key]
	return ok
}

// Register stores a new device key. Registering an existing key updates
// its label and counts as a sighting.
func (r *Registry) Register(key, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	rec, ok := r.records[key]
	if !ok {
		rec = Record{Key: key, RegisteredAt: now}
	}
	rec.Label = label
	rec.LastSeen = now
	r.records[key] = rec
	return r.persistLocked()
}

// UpdateLastSeen marks the device as recently active. Unknown keys are a
// no-op.
func (r *Registry) UpdateLastSeen(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil
	}
	rec.LastSeen = time.Now().UTC()
	r.records[key] = rec
	return r.persistLocked()
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// persistLocked rewrites the store atomically. Callers hold r.mu.
func (r *Registry) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
