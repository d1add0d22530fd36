package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/lib/pq"

	"rifa/internal/models"
	"rifa/internal/repository"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute

	// pingInterval bounds staleness when notifications are lost: the mirror
	// re-reads the store at least this often.
	pingInterval = 90 * time.Second
)

// TicketLister is the read side of the store the mirror caches.
type TicketLister interface {
	ListTickets(ctx context.Context, status string) ([]models.RaffleTicket, error)
}

// Mirror is a read-through cache of the ticket collection, reloaded from the
// store whenever a change notification arrives. It is never mutated locally;
// the store stays the single source of record.
type Mirror struct {
	lister TicketLister

	mu      sync.RWMutex
	tickets []models.RaffleTicket
	loaded  bool
	subs    map[chan struct{}]struct{}
}

// NewMirror creates a mirror over the given store.
func NewMirror(lister TicketLister) *Mirror {
	return &Mirror{
		lister: lister,
		subs:   make(map[chan struct{}]struct{}),
	}
}

// Refresh reloads the snapshot from the store and wakes subscribers.
func (m *Mirror) Refresh(ctx context.Context) error {
	tickets, err := m.lister.ListTickets(ctx, "")
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tickets = tickets
	m.loaded = true
	for ch := range m.subs {
		// Coalesced wake-up: a subscriber that has not consumed the previous
		// signal needs no second one.
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	m.mu.Unlock()

	return nil
}

// Tickets returns the cached snapshot. The boolean is false until the first
// successful load; callers should then read the store directly.
func (m *Mirror) Tickets() ([]models.RaffleTicket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded {
		return nil, false
	}
	out := make([]models.RaffleTicket, len(m.tickets))
	copy(out, m.tickets)
	return out, true
}

// Subscribe registers for change signals. The returned cancel func must be
// called when the subscriber goes away.
func (m *Mirror) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
	}
	return ch, cancel
}

// Listen blocks on the Postgres notification channel, refreshing the mirror
// on every ticket mutation and on a periodic ping as a staleness bound. It
// returns when ctx is done.
func (m *Mirror) Listen(ctx context.Context, dsn string) error {
	listener := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Errorf("Ticket listener event %d: %v", ev, err)
			}
		})
	defer listener.Close()

	if err := listener.Listen(repository.NotifyChannel); err != nil {
		return err
	}

	if err := m.Refresh(ctx); err != nil {
		logger.Errorf("Initial ticket mirror load failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n := <-listener.Notify:
			// n is nil after a reconnect; reload either way since events may
			// have been missed while disconnected.
			if n != nil {
				logger.Infof("Ticket change notification: %s", n.Extra)
			}
			if err := m.Refresh(ctx); err != nil {
				logger.Errorf("Ticket mirror refresh failed: %v", err)
			}

		case <-time.After(pingInterval):
			if err := listener.Ping(); err != nil {
				logger.Errorf("Ticket listener ping failed: %v", err)
			}
			if err := m.Refresh(ctx); err != nil {
				logger.Errorf("Ticket mirror refresh failed: %v", err)
			}
		}
	}
}
