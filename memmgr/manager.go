// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package memmgr implements the cooperative memory manager the shuffle
// repartitioner registers with: a fixed budget shared by every
// "requesting" consumer, where growth past the budget first asks
// registered consumers to spill before failing with ResourcesExhausted.
//
// The protocol is register/try-grow/shrink/drop-consumer plus a spill()
// eviction callback. TryGrow does not block waiting on another
// goroutine's Shrink; it drives its own retry loop, actively asking
// registered consumers to spill until the reservation fits or every
// consumer has nothing left to give.
package memmgr

import (
	"context"
	"fmt"
	"sync"

	sortshuffle "github.com/SnellerInc/sortshuffle"
)

// defaultBudgetFraction is the share of host memory a Manager reserves
// for itself when NewManager is given a budget of 0.
const defaultBudgetFraction = 4

// ConsumerID identifies a registered consumer, scoped to one upstream
// partition.
type ConsumerID struct {
	Name      string
	Partition int
}

func (c ConsumerID) String() string {
	return fmt.Sprintf("%s[%d]", c.Name, c.Partition)
}

// Spillable is implemented by anything that can be asked to give back
// memory on demand.
type Spillable interface {
	// Spill releases some amount of accounted memory and returns how
	// many bytes were freed. Returning 0 with a nil error means "I have
	// nothing left to give."
	Spill(ctx context.Context) (int64, error)
}

// Manager arbitrates a fixed memory budget across registered consumers.
type Manager struct {
	budget int64

	mu        sync.Mutex
	used      int64
	consumers map[ConsumerID]Spillable
	order     []ConsumerID // registration order, the order eviction scans victims in
}

// NewManager returns a Manager enforcing the given byte budget. A budget
// of 0 means "pick one automatically": a quarter of the host's detected
// total memory, or 64MiB if that can't be determined (non-Linux, or
// /proc/meminfo unreadable).
func NewManager(budget int64) *Manager {
	if budget <= 0 {
		budget = sortshuffle.TotalMemory() / defaultBudgetFraction
		if budget <= 0 {
			budget = 64 << 20
		}
	}
	return &Manager{budget: budget, consumers: make(map[ConsumerID]Spillable)}
}

// RegisterRequester registers a consumer that will call TryGrow/Shrink.
func (m *Manager) RegisterRequester(id ConsumerID, c Spillable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumers[id]; !ok {
		m.order = append(m.order, id)
	}
	m.consumers[id] = c
}

// DropConsumer unregisters a consumer and returns its last known
// reservation to the budget, for use on the consumer's teardown path.
func (m *Manager) DropConsumer(id ConsumerID, reserved int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consumers, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.used -= reserved
	if m.used < 0 {
		m.used = 0
	}
}

// TryGrow reserves n additional bytes for id, spilling other (then any)
// registered consumers as needed. It blocks until the reservation
// succeeds or every consumer has failed to free anything, at which point
// it returns ErrResourcesExhausted. It also returns early if ctx is
// cancelled.
func (m *Manager) TryGrow(ctx context.Context, id ConsumerID, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.used+n <= m.budget {
			m.used += n
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		freed, err := m.spillOnceLocked(ctx, id)
		if err != nil {
			return err
		}
		if freed == 0 {
			return ErrResourcesExhausted
		}
	}
}

// spillOnceLocked asks each registered consumer (other consumers first,
// then the requester itself) to spill, stopping at the first one that
// frees something. m.mu is held on entry and exit.
func (m *Manager) spillOnceLocked(ctx context.Context, requester ConsumerID) (int64, error) {
	order := append([]ConsumerID(nil), m.order...)
	// victims: everyone but the requester, then the requester last, so a
	// consumer isn't forced to evict its own just-inserted data before
	// giving other consumers a chance to free theirs.
	victims := make([]ConsumerID, 0, len(order))
	for _, o := range order {
		if o != requester {
			victims = append(victims, o)
		}
	}
	if _, ok := m.consumers[requester]; ok {
		victims = append(victims, requester)
	}

	for _, victim := range victims {
		c, ok := m.consumers[victim]
		if !ok {
			continue
		}
		m.mu.Unlock()
		freed, err := c.Spill(ctx)
		m.mu.Lock()
		if err != nil {
			// A victim returning an error (ErrResourcesExhausted or
			// anything else) means only that it had nothing to give;
			// move on and let a later victim, or the requester itself,
			// have a turn. ctx cancellation is the one case that must
			// abort the whole scan rather than just this victim.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			continue
		}
		if freed > 0 {
			m.used -= freed
			if m.used < 0 {
				m.used = 0
			}
			return freed, nil
		}
	}
	return 0, nil
}

// Shrink returns n bytes previously reserved by id to the budget.
func (m *Manager) Shrink(id ConsumerID, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
}

// Used returns the manager's total accounted usage.
func (m *Manager) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Budget returns the manager's fixed byte budget.
func (m *Manager) Budget() int64 {
	return m.budget
}
