// Package lock provides the reader/writer monitor guarding each open index.
// Unlike sync.RWMutex it can downgrade a held write lock to a read lock
// atomically, which the save-before-query protocol depends on.
package lock

import "sync"

// Monitor is a reader/writer lock. status > 0 counts active readers,
// status < 0 marks an active writer, zero means free.
type Monitor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	status int
}

// New returns an unlocked Monitor.
func New() *Monitor {
	m := &Monitor{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// EnterRead blocks while a writer holds the monitor.
func (m *Monitor) EnterRead() {
	m.mu.Lock()
	for m.status < 0 {
		m.cond.Wait()
	}
	m.status++
	m.mu.Unlock()
}

// EnterWrite blocks until there are no readers and no writer.
func (m *Monitor) EnterWrite() {
	m.mu.Lock()
	for m.status != 0 {
		m.cond.Wait()
	}
	m.status--
	m.mu.Unlock()
}

// ExitRead releases one read hold.
func (m *Monitor) ExitRead() {
	m.mu.Lock()
	if m.status <= 0 {
		m.mu.Unlock()
		panic("lock: ExitRead without matching EnterRead")
	}
	m.status--
	if m.status == 0 {
		m.cond.Broadcast()
	}
	m.mu.Unlock()
}

// ExitWrite releases the write hold.
func (m *Monitor) ExitWrite() {
	m.mu.Lock()
	if m.status >= 0 {
		m.mu.Unlock()
		panic("lock: ExitWrite without matching EnterWrite")
	}
	m.status++
	m.cond.Broadcast()
	m.mu.Unlock()
}

// ExitReadEnterWrite trades a read hold for the write hold. Other writers may
// run in between.
func (m *Monitor) ExitReadEnterWrite() {
	m.ExitRead()
	m.EnterWrite()
}

// ExitWriteEnterRead trades the write hold for a read hold in one critical
// section: no writer waiting on the monitor can get in between.
func (m *Monitor) ExitWriteEnterRead() {
	m.mu.Lock()
	if m.status >= 0 {
		m.mu.Unlock()
		panic("lock: ExitWriteEnterRead without matching EnterWrite")
	}
	m.status = 1
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Upgrade runs fn with the write hold while the caller holds a read hold, and
// returns with the caller holding a read hold again, even if fn fails or
// panics. The downgrade after fn is atomic.
func (m *Monitor) Upgrade(fn func() error) error {
	m.ExitReadEnterWrite()
	defer m.ExitWriteEnterRead()
	return fn()
}

// Readers returns the number of active readers, or -1 while a writer holds
// the monitor.
func (m *Monitor) Readers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status < 0 {
		return -1
	}
	return m.status
}
