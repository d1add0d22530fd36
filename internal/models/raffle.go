package models

import "time"

// Payment states a ticket moves through. A ticket leaves the table entirely
// when it expires or is removed, so there is no terminal status value.
const (
	StatusPending     = "pending"
	StatusUnderReview = "under_review"
	StatusConfirmed   = "confirmed"
)

// RaffleTicket represents a single reserved raffle number tied to a purchaser
// and a payment state. Tickets created by one reservation call share a batch
// ID and an identical expiry deadline.
type RaffleTicket struct {
	ID            string    `db:"id" json:"id"`
	Number        int       `db:"number" json:"number"`
	BatchID       string    `db:"batch_id" json:"batchId"`
	GuestName     string    `db:"guest_name" json:"guestName"`
	GuestEmail    string    `db:"guest_email" json:"guestEmail,omitempty"`
	PurchasedAt   time.Time `db:"purchased_at" json:"purchasedAt"`
	ExpiresAt     time.Time `db:"expires_at" json:"expiresAt"`
	PaymentStatus string    `db:"payment_status" json:"paymentStatus"`
	PaymentProof  *string   `db:"payment_proof" json:"paymentProof,omitempty"`
	IsWinner      bool      `db:"is_winner" json:"isWinner"`
	WinningPrize  int       `db:"winning_prize" json:"winningPrize,omitempty"`
}

// GridCell is one selectable number on the public raffle grid.
type GridCell struct {
	Number    int    `json:"number"`
	Taken     bool   `json:"taken"`
	GuestName string `json:"guestName,omitempty"`
	IsWinner  bool   `json:"isWinner,omitempty"`
	Prize     int    `json:"prize,omitempty"`
}

// DrawResult records the outcome of one committed prize draw.
type DrawResult struct {
	Prize       int       `json:"prize"`
	TicketID    string    `json:"ticketId"`
	Number      int       `json:"number"`
	GuestName   string    `json:"guestName"`
	CommittedAt time.Time `json:"committedAt"`
}
