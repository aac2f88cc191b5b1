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

package memmgr

import (
	"context"
	"errors"
	"testing"
)

type fakeConsumer struct {
	freeable int64
}

func (f *fakeConsumer) Spill(ctx context.Context) (int64, error) {
	freed := f.freeable
	f.freeable = 0
	return freed, nil
}

// errConsumer always reports it has nothing to give, using a sentinel
// distinct from memmgr's own ErrResourcesExhausted -- matching the shape
// of shuffle.Repartitioner.Spill, which returns its own package's
// sentinel in this situation.
type errConsumer struct {
	err error
}

func (e *errConsumer) Spill(ctx context.Context) (int64, error) {
	return 0, e.err
}

func TestTryGrowWithinBudget(t *testing.T) {
	m := NewManager(100)
	id := ConsumerID{Name: "c", Partition: 0}
	m.RegisterRequester(id, &fakeConsumer{})
	if err := m.TryGrow(context.Background(), id, 50); err != nil {
		t.Fatal(err)
	}
	if m.Used() != 50 {
		t.Fatalf("used = %d, want 50", m.Used())
	}
}

func TestTryGrowSpillsOtherConsumer(t *testing.T) {
	m := NewManager(100)
	a := ConsumerID{Name: "a", Partition: 0}
	b := ConsumerID{Name: "b", Partition: 1}
	victim := &fakeConsumer{freeable: 40}
	m.RegisterRequester(a, &fakeConsumer{})
	m.RegisterRequester(b, victim)

	if err := m.TryGrow(context.Background(), a, 90); err != nil {
		t.Fatal(err)
	}
	if err := m.TryGrow(context.Background(), a, 30); err != nil {
		t.Fatalf("expected spill of victim to make room: %v", err)
	}
}

func TestTryGrowSkipsVictimThatErrorsWithAForeignSentinel(t *testing.T) {
	m := NewManager(100)
	a := ConsumerID{Name: "a", Partition: 0}
	b := ConsumerID{Name: "b", Partition: 1}
	c := ConsumerID{Name: "c", Partition: 2}
	foreignErr := errors.New("shuffle: resources exhausted")
	m.RegisterRequester(a, &fakeConsumer{})
	m.RegisterRequester(b, &errConsumer{err: foreignErr})
	m.RegisterRequester(c, &fakeConsumer{freeable: 50})

	if err := m.TryGrow(context.Background(), a, 90); err != nil {
		t.Fatal(err)
	}
	// b has nothing to give and reports it with a sentinel memmgr does
	// not recognize; the scan must still reach c and succeed.
	if err := m.TryGrow(context.Background(), a, 30); err != nil {
		t.Fatalf("expected scan to continue past b's error to c, got %v", err)
	}
}

func TestTryGrowExhausted(t *testing.T) {
	m := NewManager(100)
	id := ConsumerID{Name: "a", Partition: 0}
	m.RegisterRequester(id, &fakeConsumer{freeable: 0})
	err := m.TryGrow(context.Background(), id, 200)
	if !errors.Is(err, ErrResourcesExhausted) {
		t.Fatalf("expected ErrResourcesExhausted, got %v", err)
	}
}

func TestDropConsumerReturnsReservation(t *testing.T) {
	m := NewManager(100)
	id := ConsumerID{Name: "a", Partition: 0}
	m.RegisterRequester(id, &fakeConsumer{})
	if err := m.TryGrow(context.Background(), id, 80); err != nil {
		t.Fatal(err)
	}
	m.DropConsumer(id, 80)
	if m.Used() != 0 {
		t.Fatalf("used = %d, want 0 after drop", m.Used())
	}
}
