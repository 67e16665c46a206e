// Package tracker keeps the set of open /v1/live connections so shutdown can warn
// them and wait for their handlers to return.
package tracker

import (
	"context"
	"sort"
	"sync"
)

// Conn is what shutdown needs from a live connection.
type Conn interface {
	Warn(code, message string) error
	Close()
}

type entry struct {
	conn Conn
	once sync.Once
}

type Tracker struct {
	mu    sync.Mutex
	conns map[string]*entry
	wg    sync.WaitGroup
}

func New() *Tracker {
	return &Tracker{conns: make(map[string]*entry)}
}

// Add tracks c under sessionID until the returned release func is called. A second
// Add for the same id replaces and releases the first.
func (t *Tracker) Add(sessionID string, c Conn) (release func()) {
	if t == nil {
		return func() {}
	}
	e := &entry{conn: c}

	t.mu.Lock()
	prev := t.conns[sessionID]
	t.conns[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if prev != nil {
		t.release(sessionID, prev)
	}
	return func() { t.release(sessionID, e) }
}

func (t *Tracker) release(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.conns[sessionID] == e {
			delete(t.conns, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// SessionIDs returns the tracked ids in sorted order.
func (t *Tracker) SessionIDs() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (t *Tracker) snapshot() []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Conn, 0, len(t.conns))
	for _, e := range t.conns {
		if e.conn != nil {
			out = append(out, e.conn)
		}
	}
	return out
}

// Broadcast sends a warning frame to every tracked connection and reports how many
// accepted it.
func (t *Tracker) Broadcast(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, c := range t.snapshot() {
		if c.Warn(code, message) == nil {
			sent++
		}
	}
	return sent
}

// CloseAll force-closes every tracked connection.
func (t *Tracker) CloseAll() int {
	if t == nil {
		return 0
	}
	conns := t.snapshot()
	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

// Wait blocks until every tracked connection is released or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
