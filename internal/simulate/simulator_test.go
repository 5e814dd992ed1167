// ABOUTME: Tests for the synthetic traffic generator.
// ABOUTME: Uses a recording backend to verify the traffic mix and lifecycle.

package simulate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/inbox/internal/store"
)

// event is one recorded backend call, in arrival order.
type event struct {
	kind    string // "register" or "deliver"
	id      string // profile ID or sender ID
	receive string // receiver ID for deliveries
}

type recordingBackend struct {
	mu     sync.Mutex
	users  []string
	events []event
}

func (b *recordingBackend) RegisterProfile(_ context.Context, p *store.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{kind: "register", id: p.ID})
	return nil
}

func (b *recordingBackend) Deliver(_ context.Context, msg *store.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{kind: "deliver", id: msg.SenderID, receive: msg.ReceiverID})
	return nil
}

func (b *recordingBackend) ListUserIDs(context.Context) ([]string, error) {
	return b.users, nil
}

func (b *recordingBackend) snapshot() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event(nil), b.events...)
}

func (b *recordingBackend) deliveries() []event {
	var out []event
	for _, e := range b.snapshot() {
		if e.kind == "deliver" {
			out = append(out, e)
		}
	}
	return out
}

func startSimulator(t *testing.T, backend *recordingBackend, cfg Config) *Simulator {
	t.Helper()
	sim := New(backend, cfg, nil)
	require.NoError(t, sim.Start(t.Context()))
	t.Cleanup(sim.Stop)
	return sim
}

func TestStart_RegistersPersonas(t *testing.T) {
	backend := &recordingBackend{users: []string{"user-1"}}
	startSimulator(t, backend, Config{Interval: time.Hour})

	registered := map[string]bool{}
	for _, e := range backend.snapshot() {
		if e.kind == "register" {
			registered[e.id] = true
		}
	}
	for _, p := range personaDeck {
		assert.True(t, registered[p.id], "persona %s not registered", p.id)
	}
}

func TestTick_DeliversToKnownUsers(t *testing.T) {
	backend := &recordingBackend{users: []string{"user-1", "user-2"}}
	startSimulator(t, backend, Config{Interval: 5 * time.Millisecond})

	require.Eventually(t, func() bool {
		return len(backend.deliveries()) >= 5
	}, 2*time.Second, 10*time.Millisecond)

	for _, d := range backend.deliveries() {
		assert.Contains(t, []string{"user-1", "user-2"}, d.receive)
	}
}

func TestGhostTraffic_SendersNeverRegistered(t *testing.T) {
	backend := &recordingBackend{users: []string{"user-1"}}
	startSimulator(t, backend, Config{Interval: 5 * time.Millisecond, GhostRatio: 1.0})

	require.Eventually(t, func() bool {
		return len(backend.deliveries()) >= 5
	}, 2*time.Second, 10*time.Millisecond)

	registered := map[string]bool{}
	for _, e := range backend.snapshot() {
		if e.kind == "register" {
			registered[e.id] = true
		}
	}
	for _, d := range backend.deliveries() {
		assert.True(t, strings.HasPrefix(d.id, "ghost-"), "sender %s should be a ghost", d.id)
		assert.False(t, registered[d.id], "ghost %s must not have a profile", d.id)
	}
}

func TestNewcomerTraffic_RegistersBeforeFirstMessage(t *testing.T) {
	backend := &recordingBackend{users: []string{"user-1"}}
	startSimulator(t, backend, Config{Interval: 5 * time.Millisecond, NewcomerRatio: 1.0})

	// Enough ticks to drain the newcomer deck and fall back to personas.
	require.Eventually(t, func() bool {
		return len(backend.deliveries()) >= len(newcomerDeck)+2
	}, 3*time.Second, 10*time.Millisecond)

	newcomerIDs := map[string]bool{}
	for _, p := range newcomerDeck {
		newcomerIDs[p.id] = true
	}

	registeredAt := map[string]int{}
	firstDelivery := map[string]int{}
	for i, e := range backend.snapshot() {
		switch e.kind {
		case "register":
			if _, seen := registeredAt[e.id]; !seen {
				registeredAt[e.id] = i
			}
		case "deliver":
			if _, seen := firstDelivery[e.id]; !seen {
				firstDelivery[e.id] = i
			}
		}
	}

	sawNewcomer := false
	for id, deliveredAt := range firstDelivery {
		if !newcomerIDs[id] {
			continue
		}
		sawNewcomer = true
		at, ok := registeredAt[id]
		require.True(t, ok, "newcomer %s was never registered", id)
		assert.Less(t, at, deliveredAt, "newcomer %s must be registered before its first message", id)
	}
	assert.True(t, sawNewcomer, "expected at least one newcomer sender")
}

func TestStop_HaltsDeliveries(t *testing.T) {
	backend := &recordingBackend{users: []string{"user-1"}}
	sim := New(backend, Config{Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, sim.Start(t.Context()))

	require.Eventually(t, func() bool {
		return len(backend.deliveries()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	sim.Stop()
	count := len(backend.deliveries())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, len(backend.deliveries()))

	// Stop again is a no-op.
	sim.Stop()
}

func TestNoUsers_NoDeliveries(t *testing.T) {
	backend := &recordingBackend{}
	startSimulator(t, backend, Config{Interval: 5 * time.Millisecond})

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, backend.deliveries())
}
