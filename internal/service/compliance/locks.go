package compliance

import (
	"sync"

	"github.com/google/uuid"
)

// customerLocks provides per-customer mutual exclusion without global
// contention: evaluations for different customers run fully in parallel,
// while evaluation plus audit plus history append for one customer execute
// as a single logical unit.
type customerLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newCustomerLocks() *customerLocks {
	return &customerLocks{
		locks: make(map[uuid.UUID]*lockEntry),
	}
}

// Lock acquires the customer's lock and returns its unlock function. Entries
// are reference-counted so the map does not grow with every customer ever
// seen.
func (c *customerLocks) Lock(customerID uuid.UUID) func() {
	c.mu.Lock()
	entry, ok := c.locks[customerID]
	if !ok {
		entry = &lockEntry{}
		c.locks[customerID] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.locks, customerID)
		}
		c.mu.Unlock()
	}
}
