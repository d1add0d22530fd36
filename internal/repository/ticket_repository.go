package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"rifa/internal/models"
)

// NotifyChannel is the Postgres channel every ticket mutation is announced on.
// The live mirror LISTENs here and reloads on each event.
const NotifyChannel = "raffle_tickets"

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

var (
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrNumberTaken means at least one requested number already has a live
	// ticket. The UNIQUE constraint on number raises it, so two concurrent
	// reservations of the same number are serialized by the database.
	ErrNumberTaken = errors.New("number already taken")

	// ErrTicketIsWinner guards winning tickets against deletion and rejection.
	ErrTicketIsWinner = errors.New("ticket is a winner")

	// ErrPrizeAlreadyDrawn means the prize tier already has a committed winner.
	ErrPrizeAlreadyDrawn = errors.New("prize already drawn")

	// ErrTicketNotEligible means the conditional winner write matched no row:
	// the ticket was deleted, unconfirmed, or already won while the draw ran.
	ErrTicketNotEligible = errors.New("ticket no longer eligible")
)

// TicketRepository is the store adapter for raffle tickets. All writes are
// single-statement conditional updates or one batch-insert transaction; no
// read-then-write sequence crosses a statement boundary.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, number, batch_id, guest_name, guest_email,
	purchased_at, expires_at, payment_status, payment_proof, is_winner, winning_prize`

// CreateBatch inserts every ticket of one reservation in a single transaction.
// If any number is already taken the whole batch rolls back and ErrNumberTaken
// is returned; no partial reservation survives.
func (r *TicketRepository) CreateBatch(ctx context.Context, tickets []models.RaffleTicket) error {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO raffle_tickets (` + ticketColumns + `)
		VALUES (:id, :number, :batch_id, :guest_name, :guest_email,
			:purchased_at, :expires_at, :payment_status, :payment_proof, :is_winner, :winning_prize)
	`
	for i := range tickets {
		if _, err := tx.NamedExecContext(ctx, query, tickets[i]); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("number %d: %w", tickets[i].Number, ErrNumberTaken)
			}
			return fmt.Errorf("failed to insert ticket %d: %w", tickets[i].Number, err)
		}
	}

	if err := notify(ctx, tx, "reserved"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	return nil
}

// GetTicket retrieves one ticket by ID
func (r *TicketRepository) GetTicket(ctx context.Context, id string) (models.RaffleTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM raffle_tickets WHERE id = $1`

	var ticket models.RaffleTicket
	if err := r.db.GetContext(ctx, &ticket, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RaffleTicket{}, ErrTicketNotFound
		}
		return models.RaffleTicket{}, fmt.Errorf("failed to get ticket: %w", err)
	}

	return ticket, nil
}

// ListTickets returns all tickets, optionally filtered by payment status,
// ordered by number for stable admin listings.
func (r *TicketRepository) ListTickets(ctx context.Context, status string) ([]models.RaffleTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM raffle_tickets`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE payment_status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY number ASC`

	tickets := []models.RaffleTicket{}
	if err := r.db.SelectContext(ctx, &tickets, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}

	return tickets, nil
}

// Confirm moves a ticket to confirmed. Confirming an already confirmed ticket
// is a no-op success.
func (r *TicketRepository) Confirm(ctx context.Context, id string) error {
	query := `UPDATE raffle_tickets SET payment_status = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, models.StatusConfirmed, id)
	if err != nil {
		return fmt.Errorf("failed to confirm ticket: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrTicketNotFound
	}

	r.notifyDirect(ctx, "confirmed")
	return nil
}

// Reject returns a ticket to pending and clears its payment proof. Winning
// tickets are never rejected.
func (r *TicketRepository) Reject(ctx context.Context, id string) error {
	query := `
		UPDATE raffle_tickets
		SET payment_status = $1, payment_proof = NULL
		WHERE id = $2 AND is_winner = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, models.StatusPending, id)
	if err != nil {
		return fmt.Errorf("failed to reject ticket: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return r.notFoundOrWinner(ctx, id)
	}

	r.notifyDirect(ctx, "rejected")
	return nil
}

// Delete permanently removes a ticket, freeing its number immediately.
// Winning tickets are never deleted.
func (r *TicketRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM raffle_tickets WHERE id = $1 AND is_winner = FALSE`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return r.notFoundOrWinner(ctx, id)
	}

	r.notifyDirect(ctx, "deleted")
	return nil
}

// AttachProof stores the uploaded proof URL and moves the ticket under review.
// Only pending or re-submitted (already under review) tickets accept proof.
func (r *TicketRepository) AttachProof(ctx context.Context, id, proofURL string) error {
	query := `
		UPDATE raffle_tickets
		SET payment_proof = $1, payment_status = $2
		WHERE id = $3 AND payment_status IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query,
		proofURL, models.StatusUnderReview, id, models.StatusPending, models.StatusUnderReview)
	if err != nil {
		return fmt.Errorf("failed to attach payment proof: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrTicketNotFound
	}

	r.notifyDirect(ctx, "proof_submitted")
	return nil
}

// DeleteExpiredPending removes every pending ticket whose deadline has passed
// and returns the freed numbers. Confirmed and under-review tickets are never
// touched.
func (r *TicketRepository) DeleteExpiredPending(ctx context.Context, now time.Time) ([]int, error) {
	query := `
		DELETE FROM raffle_tickets
		WHERE payment_status = $1 AND expires_at <= $2
		RETURNING number
	`

	freed := []int{}
	if err := r.db.SelectContext(ctx, &freed, query, models.StatusPending, now); err != nil {
		return nil, fmt.Errorf("failed to delete expired tickets: %w", err)
	}

	if len(freed) > 0 {
		r.notifyDirect(ctx, "expired")
	}
	return freed, nil
}

// EligibleForDraw returns the confirmed, non-winning tickets.
func (r *TicketRepository) EligibleForDraw(ctx context.Context) ([]models.RaffleTicket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM raffle_tickets
		WHERE payment_status = $1 AND is_winner = FALSE
		ORDER BY number ASC
	`

	tickets := []models.RaffleTicket{}
	if err := r.db.SelectContext(ctx, &tickets, query, models.StatusConfirmed); err != nil {
		return nil, fmt.Errorf("failed to list eligible tickets: %w", err)
	}

	return tickets, nil
}

// MarkWinner commits a draw result to one ticket. The write is conditional on
// the ticket still being confirmed and not yet a winner; the partial unique
// index on winning_prize rejects a second winner for the same tier.
func (r *TicketRepository) MarkWinner(ctx context.Context, id string, prize int) error {
	query := `
		UPDATE raffle_tickets
		SET is_winner = TRUE, winning_prize = $1
		WHERE id = $2 AND payment_status = $3 AND is_winner = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, prize, id, models.StatusConfirmed)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPrizeAlreadyDrawn
		}
		return fmt.Errorf("failed to mark winner: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrTicketNotEligible
	}

	r.notifyDirect(ctx, "winner")
	return nil
}

// NextPrizeTier returns the tier the next draw will award: one past the
// highest committed tier.
func (r *TicketRepository) NextPrizeTier(ctx context.Context) (int, error) {
	query := `SELECT COALESCE(MAX(winning_prize), 0) FROM raffle_tickets WHERE is_winner`

	var highest int
	if err := r.db.GetContext(ctx, &highest, query); err != nil {
		return 0, fmt.Errorf("failed to get highest prize tier: %w", err)
	}

	return highest + 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// notFoundOrWinner disambiguates a zero-rows-affected guard write.
func (r *TicketRepository) notFoundOrWinner(ctx context.Context, id string) error {
	if _, err := r.GetTicket(ctx, id); err != nil {
		return err
	}
	return ErrTicketIsWinner
}

func notify(ctx context.Context, tx *sqlx.Tx, event string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, event); err != nil {
		return fmt.Errorf("failed to notify ticket change: %w", err)
	}
	return nil
}

// notifyDirect announces a change outside a transaction. Best effort: a lost
// notification only delays the mirror until its next periodic reload.
func (r *TicketRepository) notifyDirect(ctx context.Context, event string) {
	_, _ = r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, event)
}
