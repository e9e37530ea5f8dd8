package directory

import (
	"context"
	"slices"
	"sync"
)

// MemoryClient is an in-memory Client. Records are kept as attribute slices so duplicated
// names can be seeded.
type MemoryClient struct {
	mu      sync.Mutex
	users   map[string][]Attribute
	updates map[string]int
	// FailUpdates makes the next N UpdateUserAttributes calls fail with Err.
	FailUpdates int
	Err         error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{users: make(map[string][]Attribute), updates: make(map[string]int)}
}

// Seed replaces the owner's record.
func (c *MemoryClient) Seed(owner string, attrs ...Attribute) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[owner] = slices.Clone(attrs)
}

// Value returns the first value of name on owner's record.
func (c *MemoryClient) Value(owner, name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.users[owner] {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Updates counts successful batch updates for owner.
func (c *MemoryClient) Updates(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[owner]
}

func (c *MemoryClient) GetUserAttributes(ctx context.Context, owner string) ([]Attribute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attrs, ok := c.users[owner]
	if !ok {
		return nil, ErrUserNotFound
	}
	return slices.Clone(attrs), nil
}

func (c *MemoryClient) UpdateUserAttributes(ctx context.Context, owner string, attrs []Attribute) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailUpdates > 0 {
		c.FailUpdates--
		return c.Err
	}
	current, ok := c.users[owner]
	if !ok {
		return ErrUserNotFound
	}
	for _, a := range attrs {
		current = slices.DeleteFunc(current, func(x Attribute) bool { return x.Name == a.Name })
		current = append(current, a)
	}
	c.users[owner] = current
	c.updates[owner]++
	return nil
}
