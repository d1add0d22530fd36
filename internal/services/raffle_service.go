package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"rifa/internal/metrics"
	"rifa/internal/models"
	"rifa/internal/repository"
)

var (
	ErrNoNumbersSelected = errors.New("no numbers selected")
	ErrMissingGuestName  = errors.New("guest name is required")
	ErrNumberOutOfRange  = errors.New("number out of range")

	// ErrNumberUnavailable means at least one requested number was taken at
	// reservation time. The whole batch is rolled back.
	ErrNumberUnavailable = errors.New("number unavailable")

	// ErrProofNotAccepted means the ticket exists but is not in a state that
	// accepts a payment proof (already confirmed).
	ErrProofNotAccepted = errors.New("ticket does not accept payment proof")
)

// TicketStore is the persistence surface the raffle core needs. The Postgres
// repository implements it; tests use in-memory stubs.
type TicketStore interface {
	CreateBatch(ctx context.Context, tickets []models.RaffleTicket) error
	GetTicket(ctx context.Context, id string) (models.RaffleTicket, error)
	ListTickets(ctx context.Context, status string) ([]models.RaffleTicket, error)
	Confirm(ctx context.Context, id string) error
	Reject(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	AttachProof(ctx context.Context, id, proofURL string) error
	DeleteExpiredPending(ctx context.Context, now time.Time) ([]int, error)
	EligibleForDraw(ctx context.Context) ([]models.RaffleTicket, error)
	MarkWinner(ctx context.Context, id string, prize int) error
	NextPrizeTier(ctx context.Context) (int, error)
}

// ProofStore uploads payment-proof images and returns their public URL.
type ProofStore interface {
	PutProof(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// RaffleService owns the ticket lifecycle: reservation, payment review and
// expiry. Number uniqueness is enforced by the store's conditional writes, so
// the service never pre-checks availability before reserving.
type RaffleService struct {
	store         TicketStore
	proofs        ProofStore
	totalNumbers  int
	paymentWindow time.Duration
	now           func() time.Time
}

// NewRaffleService creates and initializes a new RaffleService.
func NewRaffleService(store TicketStore, proofs ProofStore, totalNumbers int, paymentWindow time.Duration) *RaffleService {
	return &RaffleService{
		store:         store,
		proofs:        proofs,
		totalNumbers:  totalNumbers,
		paymentWindow: paymentWindow,
		now:           time.Now,
	}
}

// TotalNumbers returns the size of the selectable grid.
func (s *RaffleService) TotalNumbers() int {
	return s.totalNumbers
}

// PaymentWindow returns how long a pending ticket holds its number.
func (s *RaffleService) PaymentWindow() time.Duration {
	return s.paymentWindow
}

// Reserve creates one pending ticket per requested number, all sharing a
// batch ID and an identical expiry deadline. The batch is all-or-nothing: if
// any number is taken, nothing is created and ErrNumberUnavailable is
// returned.
func (s *RaffleService) Reserve(ctx context.Context, numbers []int, guestName, guestEmail string) ([]models.RaffleTicket, error) {
	start := time.Now()
	status := "failed"
	defer func() {
		metrics.RecordReserveDuration(status, time.Since(start).Seconds())
	}()

	distinct, err := s.validateSelection(numbers, guestName)
	if err != nil {
		status = "invalid"
		return nil, err
	}

	now := s.now()
	batchID := uuid.NewString()
	tickets := make([]models.RaffleTicket, 0, len(distinct))
	for _, n := range distinct {
		tickets = append(tickets, models.RaffleTicket{
			ID:            uuid.NewString(),
			Number:        n,
			BatchID:       batchID,
			GuestName:     guestName,
			GuestEmail:    guestEmail,
			PurchasedAt:   now,
			ExpiresAt:     now.Add(s.paymentWindow),
			PaymentStatus: models.StatusPending,
		})
	}

	if err := s.store.CreateBatch(ctx, tickets); err != nil {
		if errors.Is(err, repository.ErrNumberTaken) {
			status = "unavailable"
			return nil, fmt.Errorf("%w: %v", ErrNumberUnavailable, err)
		}
		return nil, fmt.Errorf("failed to reserve numbers: %w", err)
	}

	status = "success"
	logger.Infof("Reserved %d number(s) for %q, batch %s expires at %s",
		len(tickets), guestName, batchID, tickets[0].ExpiresAt.Format(time.RFC3339))
	return tickets, nil
}

// validateSelection rejects bad input before any store call and returns the
// requested numbers deduplicated and sorted.
func (s *RaffleService) validateSelection(numbers []int, guestName string) ([]int, error) {
	if guestName == "" {
		return nil, ErrMissingGuestName
	}
	if len(numbers) == 0 {
		return nil, ErrNoNumbersSelected
	}

	seen := make(map[int]bool, len(numbers))
	distinct := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if n < 1 || n > s.totalNumbers {
			return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrNumberOutOfRange, n, s.totalNumbers)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		distinct = append(distinct, n)
	}
	sort.Ints(distinct)

	return distinct, nil
}

// Grid returns one cell per number reflecting the live taken/winner state.
// Any existing ticket blocks its number regardless of payment status.
func (s *RaffleService) Grid(ctx context.Context) ([]models.GridCell, error) {
	tickets, err := s.store.ListTickets(ctx, "")
	if err != nil {
		return nil, err
	}
	return BuildGrid(s.totalNumbers, tickets), nil
}

// BuildGrid projects a ticket list onto the numbered grid.
func BuildGrid(totalNumbers int, tickets []models.RaffleTicket) []models.GridCell {
	byNumber := make(map[int]models.RaffleTicket, len(tickets))
	for _, t := range tickets {
		byNumber[t.Number] = t
	}

	cells := make([]models.GridCell, 0, totalNumbers)
	for n := 1; n <= totalNumbers; n++ {
		cell := models.GridCell{Number: n}
		if t, ok := byNumber[n]; ok {
			cell.Taken = true
			cell.GuestName = t.GuestName
			cell.IsWinner = t.IsWinner
			cell.Prize = t.WinningPrize
		}
		cells = append(cells, cell)
	}
	return cells
}

// GetTicket returns one ticket by ID.
func (s *RaffleService) GetTicket(ctx context.Context, id string) (models.RaffleTicket, error) {
	return s.store.GetTicket(ctx, id)
}

// ListTickets returns tickets for the admin dashboard, optionally filtered by
// payment status.
func (s *RaffleService) ListTickets(ctx context.Context, status string) ([]models.RaffleTicket, error) {
	switch status {
	case "", models.StatusPending, models.StatusUnderReview, models.StatusConfirmed:
	default:
		return nil, fmt.Errorf("unknown payment status %q", status)
	}
	return s.store.ListTickets(ctx, status)
}

// SubmitProof uploads a payment-proof image and moves the ticket under
// review. Confirmed tickets do not accept proof.
func (s *RaffleService) SubmitProof(ctx context.Context, ticketID, filename string, body io.Reader, size int64, contentType string) (models.RaffleTicket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.RaffleTicket{}, err
	}
	if ticket.PaymentStatus == models.StatusConfirmed {
		return models.RaffleTicket{}, ErrProofNotAccepted
	}

	key := fmt.Sprintf("proofs/%s%s", ticket.ID, path.Ext(filename))
	url, err := s.proofs.PutProof(ctx, key, body, size, contentType)
	if err != nil {
		return models.RaffleTicket{}, fmt.Errorf("failed to upload payment proof: %w", err)
	}

	if err := s.store.AttachProof(ctx, ticket.ID, url); err != nil {
		return models.RaffleTicket{}, err
	}

	logger.Infof("Payment proof submitted for ticket %s (number %d)", ticket.ID, ticket.Number)
	return s.store.GetTicket(ctx, ticketID)
}

// Confirm marks a ticket's payment as verified. Confirming twice is a no-op.
func (s *RaffleService) Confirm(ctx context.Context, ticketID string) error {
	if err := s.store.Confirm(ctx, ticketID); err != nil {
		return err
	}
	logger.Infof("Ticket %s confirmed", ticketID)
	return nil
}

// Reject sends a ticket back to pending and clears its proof so the guest can
// submit again. It never deletes; Remove is the explicit deletion action.
func (s *RaffleService) Reject(ctx context.Context, ticketID string) error {
	if err := s.store.Reject(ctx, ticketID); err != nil {
		return err
	}
	logger.Infof("Ticket %s rejected, proof cleared", ticketID)
	return nil
}

// Remove permanently deletes a ticket, freeing its number immediately.
// Winning tickets are refused by the store.
func (s *RaffleService) Remove(ctx context.Context, ticketID string) error {
	if err := s.store.Delete(ctx, ticketID); err != nil {
		return err
	}
	logger.Infof("Ticket %s removed", ticketID)
	return nil
}

// SweepExpired deletes every pending ticket past its payment window and
// returns the freed numbers. Called by the background sweeper.
func (s *RaffleService) SweepExpired(ctx context.Context) ([]int, error) {
	freed, err := s.store.DeleteExpiredPending(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if len(freed) > 0 {
		metrics.TicketsExpired.Add(float64(len(freed)))
		logger.Infof("Released %d expired number(s): %v", len(freed), freed)
	}
	return freed, nil
}
