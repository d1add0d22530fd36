package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/logger"

	"rifa/internal/metrics"
	"rifa/internal/models"
	"rifa/internal/repository"
)

// Draw states. A draw moves idle -> drawing -> idle again once the result (or
// failure) is recorded in the state snapshot.
const (
	DrawIdle    = "idle"
	DrawDrawing = "drawing"
)

const (
	defaultRollTick   = 100 * time.Millisecond
	defaultRollWindow = 3 * time.Second
)

var (
	ErrDrawInProgress = errors.New("a draw is already in progress")

	// ErrNoEligibleTickets means no confirmed, non-winning ticket exists.
	ErrNoEligibleTickets = errors.New("no eligible tickets for the draw")
)

// DrawState is a point-in-time snapshot of the drawing engine for polling
// clients. Rolling is animation-only and never persisted.
type DrawState struct {
	Status     string               `json:"status"`
	Prize      int                  `json:"prize,omitempty"`
	Rolling    *models.RaffleTicket `json:"rolling,omitempty"`
	LastResult *models.DrawResult   `json:"lastResult,omitempty"`
	LastError  string               `json:"lastError,omitempty"`
}

// DrawService runs the per-tier winner selection: a rolling animation that
// re-picks a random eligible ticket every tick, whose last pick is committed
// as the winner when the window closes. The commit is a conditional store
// write, so a ticket that lost eligibility mid-animation fails the draw
// instead of winning.
type DrawService struct {
	store TicketStore

	mu      sync.Mutex
	state   DrawState
	running bool
	doneC   chan struct{}

	tick   time.Duration
	window time.Duration
	rand   *rand.Rand
	now    func() time.Time
}

// NewDrawService creates and initializes a new DrawService.
func NewDrawService(store TicketStore) *DrawService {
	return &DrawService{
		store:  store,
		state:  DrawState{Status: DrawIdle},
		tick:   defaultRollTick,
		window: defaultRollWindow,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// State returns a snapshot of the current draw.
func (s *DrawService) State() DrawState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a draw for the given prize tier; tier 0 means "next undrawn
// tier". It refuses if a draw is running, the tier already has a winner, or
// no confirmed non-winning ticket exists. The animation and commit run in the
// background; progress is observable through State.
func (s *DrawService) Start(ctx context.Context, prize int) (int, error) {
	next, err := s.store.NextPrizeTier(ctx)
	if err != nil {
		return 0, err
	}
	if prize == 0 {
		prize = next
	}
	if prize < next {
		return 0, repository.ErrPrizeAlreadyDrawn
	}

	pool, err := s.store.EligibleForDraw(ctx)
	if err != nil {
		return 0, err
	}
	if len(pool) == 0 {
		return 0, ErrNoEligibleTickets
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, ErrDrawInProgress
	}
	s.running = true
	s.doneC = make(chan struct{})
	s.state = DrawState{
		Status:  DrawDrawing,
		Prize:   prize,
		Rolling: &pool[s.rand.Intn(len(pool))],
	}
	done := s.doneC
	s.mu.Unlock()

	logger.Infof("Draw started for prize tier %d with %d eligible ticket(s)", prize, len(pool))
	go s.roll(prize, done)

	return prize, nil
}

// roll drives the animation ticks and commits the final pick. It runs on a
// background context because the draw outlives the request that started it.
func (s *DrawService) roll(prize int, done chan struct{}) {
	defer close(done)

	ctx := context.Background()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	deadline := time.After(s.window)

	var last *models.RaffleTicket
	s.mu.Lock()
	last = s.state.Rolling
	s.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			pool, err := s.store.EligibleForDraw(ctx)
			if err != nil {
				// Keep rolling on the previous pick; the commit write
				// revalidates eligibility anyway.
				logger.Errorf("Failed to refresh eligible pool: %v", err)
				continue
			}
			if len(pool) == 0 {
				s.finish(DrawState{Status: DrawIdle, LastError: ErrNoEligibleTickets.Error()})
				return
			}
			last = &pool[s.rand.Intn(len(pool))]
			s.mu.Lock()
			s.state.Rolling = last
			s.mu.Unlock()

		case <-deadline:
			s.commit(ctx, prize, last)
			return
		}
	}
}

// commit writes the winner. The store write is conditional on the ticket
// still being confirmed and non-winning; on failure no winner is recorded and
// the tier is not advanced.
func (s *DrawService) commit(ctx context.Context, prize int, pick *models.RaffleTicket) {
	if pick == nil {
		s.finish(DrawState{Status: DrawIdle, LastError: ErrNoEligibleTickets.Error()})
		return
	}

	if err := s.store.MarkWinner(ctx, pick.ID, prize); err != nil {
		logger.Errorf("Draw for tier %d failed to commit ticket %s: %v", prize, pick.ID, err)
		s.finish(DrawState{Status: DrawIdle, LastError: err.Error()})
		return
	}

	metrics.DrawsCommitted.Inc()
	logger.Infof("Prize tier %d won by number %d (%s)", prize, pick.Number, pick.GuestName)
	s.finish(DrawState{
		Status: DrawIdle,
		LastResult: &models.DrawResult{
			Prize:       prize,
			TicketID:    pick.ID,
			Number:      pick.Number,
			GuestName:   pick.GuestName,
			CommittedAt: s.now(),
		},
	})
}

func (s *DrawService) finish(state DrawState) {
	s.mu.Lock()
	s.state = state
	s.running = false
	s.mu.Unlock()
}
