// Package singleinstance ensures that only one instance of a unit of work is in flight at a time.
package singleinstance

import "sync"

// Group is a namespace in which units of work are executed with duplicate suppression.
//
// Different from singleflight a duplicate caller does not wait for the result,
// but is aborted immediately.
// The zero value is ready for use.
type Group struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// Do executes fn unless another execution for key is already in flight.
// It reports whether the call was aborted. Aborted calls have no side effects.
func (g *Group) Do(key string, fn func() error) (aborted bool, err error) {
	if !g.start(key) {
		return true, nil
	}
	defer g.done(key)
	return false, fn()
}

// IsRunning reports whether an execution for key is currently in flight.
func (g *Group) IsRunning(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, found := g.running[key]
	return found
}

func (g *Group) start(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, found := g.running[key]; found {
		return false
	}
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	g.running[key] = struct{}{}
	return true
}

func (g *Group) done(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
}
