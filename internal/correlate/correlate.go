// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package correlate remembers which upstream party waits for each request
// dispatched to a downstream worker, so a worker's asynchronous reply can be
// forwarded without the worker knowing the original caller.
//
// Each worker address owns a FIFO of waiting addresses, and session ids can
// be bound to a waiting address directly. Every registration is resolved at
// most once, so two requests in flight to the same worker both reach their
// own originators.
package correlate

import "sync"

// Correlator is a process-local routing table. The zero value is not
// usable; call New.
type Correlator struct {
	mu       sync.Mutex
	workers  map[string][]string
	sessions map[string]string
}

// New returns an empty Correlator.
func New() *Correlator {
	return &Correlator{
		workers:  make(map[string][]string),
		sessions: make(map[string]string),
	}
}

// Register queues waiting as the next recipient of a reply from worker.
func (c *Correlator) Register(worker, waiting string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[worker] = append(c.workers[worker], waiting)
}

// RegisterSession binds session to waiting. A later binding for the same
// session replaces the earlier one.
func (c *Correlator) RegisterSession(session, waiting string) {
	if session == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session] = waiting
}

// Resolve pops the oldest waiting address registered for worker.
func (c *Correlator) Resolve(worker string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked(worker)
}

// ResolveSession delivers a reply carrying session from worker. A session
// binding wins; the matching worker FIFO entry is consumed as well so the
// queue stays aligned with in-flight requests. Without a session binding
// it falls back to the worker FIFO.
func (c *Correlator) ResolveSession(worker, session string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if session != "" {
		if waiting, ok := c.sessions[session]; ok {
			delete(c.sessions, session)
			c.removeLocked(worker, waiting)
			return waiting, true
		}
	}
	return c.popLocked(worker)
}

// Pending returns the number of unresolved registrations for worker.
func (c *Correlator) Pending(worker string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.workers[worker])
}

// Sessions returns the number of bound sessions.
func (c *Correlator) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// EndSession drops a session binding without resolving it.
func (c *Correlator) EndSession(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, session)
}

// Clear wipes all mappings.
func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = make(map[string][]string)
	c.sessions = make(map[string]string)
}

func (c *Correlator) popLocked(worker string) (string, bool) {
	q := c.workers[worker]
	if len(q) == 0 {
		return "", false
	}
	waiting := q[0]
	if len(q) == 1 {
		delete(c.workers, worker)
	} else {
		c.workers[worker] = q[1:]
	}
	return waiting, true
}

// removeLocked drops the oldest occurrence of waiting from worker's queue.
func (c *Correlator) removeLocked(worker, waiting string) {
	q := c.workers[worker]
	for i, w := range q {
		if w != waiting {
			continue
		}
		q = append(q[:i:i], q[i+1:]...)
		if len(q) == 0 {
			delete(c.workers, worker)
		} else {
			c.workers[worker] = q
		}
		return
	}
}
