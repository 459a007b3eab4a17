package popup

import (
	"sort"
	"strings"

	"github.com/aeolun/hawthorn/pkg/protocol"
)

// Presence is the set of users currently in the channel
type Presence struct {
	users map[string]protocol.Name
}

// NewPresence creates an empty presence set
func NewPresence() *Presence {
	return &Presence{users: make(map[string]protocol.Name)}
}

// Add records a user. Adding a user already present changes nothing and
// returns false.
func (p *Presence) Add(name protocol.Name) bool {
	if _, ok := p.users[name.User]; ok {
		return false
	}
	p.users[name.User] = name
	return true
}

// Remove drops a user, returning false if they were not present
func (p *Presence) Remove(user string) bool {
	if _, ok := p.users[user]; !ok {
		return false
	}
	delete(p.users, user)
	return true
}

// Get returns the entry for user
func (p *Presence) Get(user string) (protocol.Name, bool) {
	n, ok := p.users[user]
	return n, ok
}

// Find looks a user up by id, then by display name (case-insensitive)
func (p *Presence) Find(who string) (protocol.Name, bool) {
	if n, ok := p.users[who]; ok {
		return n, true
	}
	for _, n := range p.Sorted() {
		if strings.EqualFold(n.DisplayName, who) {
			return n, true
		}
	}
	return protocol.Name{}, false
}

// Len returns the number of users present
func (p *Presence) Len() int {
	return len(p.users)
}

// Sorted returns everyone present ordered by display name, then user id
func (p *Presence) Sorted() []protocol.Name {
	names := make([]protocol.Name, 0, len(p.users))
	for _, n := range p.users {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].DisplayName != names[j].DisplayName {
			return names[i].DisplayName < names[j].DisplayName
		}
		return names[i].User < names[j].User
	})
	return names
}
