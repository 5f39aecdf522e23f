package service

import (
	"sort"
	"sync"

	"github.com/legalforum/chatsync/internal/model"
)

// UserDirectory knows the forum users that have authenticated against the relay.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[int64]model.Participant
}

// NewUserDirectory creates an empty directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[int64]model.Participant)}
}

// Register adds or updates a user.
func (d *UserDirectory) Register(p model.Participant) {
	p.Online = false
	if p.Role == "" {
		p.Role = model.RoleUser
	}

	d.mu.Lock()
	d.users[p.ID] = p
	d.mu.Unlock()
}

// Get returns a registered user.
func (d *UserDirectory) Get(id int64) (model.Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.users[id]
	return p, ok
}

// All returns every registered user ordered by id.
func (d *UserDirectory) All() []model.Participant {
	d.mu.RLock()
	out := make([]model.Participant, 0, len(d.users))
	for _, p := range d.users {
		out = append(out, p)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
