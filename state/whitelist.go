// Package state persists the whitelist of users allowed to create sessions.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one whitelisted user.
type Entry struct {
	ID      string    `yaml:"id" json:"id"`
	AddedBy string    `yaml:"added_by,omitempty" json:"added_by,omitempty"`
	AddedAt time.Time `yaml:"added_at,omitempty" json:"added_at,omitempty"`
}

type document struct {
	Users []Entry `yaml:"users"`
}

// Whitelist is a file-backed set of user IDs. It is safe for concurrent use.
type Whitelist struct {
	path string

	mu    sync.RWMutex
	users map[string]Entry
}

// LoadWhitelist reads path. A missing file yields an empty whitelist.
func LoadWhitelist(path string) (*Whitelist, error) {
	w := &Whitelist{path: path, users: make(map[string]Entry)}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the backing file.
func (w *Whitelist) Path() string {
	return w.path
}

// Reload replaces the in-memory set with the file contents.
func (w *Whitelist) Reload() error {
	users, err := readWhitelist(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.users = users
	w.mu.Unlock()
	return nil
}

// readWhitelist accepts the current format and a bare list of IDs (which also
// covers a JSON array).
func readWhitelist(path string) (map[string]Entry, error) {
	users := make(map[string]Entry)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return users, nil
		}
		return nil, fmt.Errorf("read whitelist: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse whitelist: %w", err)
	}
	if len(node.Content) == 0 {
		return users, nil
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var ids []string
		if err := root.Decode(&ids); err != nil {
			return nil, fmt.Errorf("parse whitelist: %w", err)
		}
		for _, id := range ids {
			users[id] = Entry{ID: id}
		}
	default:
		var doc document
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse whitelist: %w", err)
		}
		for _, e := range doc.Users {
			if e.ID != "" {
				users[e.ID] = e
			}
		}
	}
	return users, nil
}

// Contains reports whether id is whitelisted.
func (w *Whitelist) Contains(id string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.users[id]
	return ok
}

// Entries returns all entries sorted by ID.
func (w *Whitelist) Entries() []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entries := make([]Entry, 0, len(w.users))
	for _, e := range w.users {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Add whitelists id and saves the file. It reports false when id was
// already present.
func (w *Whitelist) Add(id, addedBy string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.users[id]; ok {
		return false, nil
	}
	w.users[id] = Entry{ID: id, AddedBy: addedBy, AddedAt: time.Now().UTC().Truncate(time.Second)}
	if err := w.saveLocked(); err != nil {
		delete(w.users, id)
		return false, err
	}
	return true, nil
}

func (w *Whitelist) saveLocked() error {
	doc := document{Users: make([]Entry, 0, len(w.users))}
	for _, e := range w.users {
		doc.Users = append(doc.Users, e)
	}
	sort.Slice(doc.Users, func(i, j int) bool { return doc.Users[i].ID < doc.Users[j].ID })

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal whitelist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create whitelist directory: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write whitelist: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write whitelist: %w", err)
	}
	return nil
}
