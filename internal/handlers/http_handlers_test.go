package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"rifa/internal/live"
	"rifa/internal/models"
	"rifa/internal/repository"
	"rifa/internal/services"
)

// memoryTicketStore is a minimal in-memory services.TicketStore for routing
// tests; the full store semantics are covered in the services package.
type memoryTicketStore struct {
	mu      sync.Mutex
	tickets map[string]models.RaffleTicket
}

func newMemoryTicketStore() *memoryTicketStore {
	return &memoryTicketStore{tickets: make(map[string]models.RaffleTicket)}
}

func (s *memoryTicketStore) CreateBatch(_ context.Context, tickets []models.RaffleTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tickets {
		for _, t := range tickets {
			if existing.Number == t.Number {
				return fmt.Errorf("number %d: %w", t.Number, repository.ErrNumberTaken)
			}
		}
	}
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
	return nil
}

func (s *memoryTicketStore) GetTicket(_ context.Context, id string) (models.RaffleTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return models.RaffleTicket{}, repository.ErrTicketNotFound
	}
	return t, nil
}

func (s *memoryTicketStore) ListTickets(_ context.Context, status string) ([]models.RaffleTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.RaffleTicket{}
	for _, t := range s.tickets {
		if status == "" || t.PaymentStatus == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *memoryTicketStore) Confirm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return repository.ErrTicketNotFound
	}
	t.PaymentStatus = models.StatusConfirmed
	s.tickets[id] = t
	return nil
}

func (s *memoryTicketStore) Reject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return repository.ErrTicketNotFound
	}
	t.PaymentStatus = models.StatusPending
	t.PaymentProof = nil
	s.tickets[id] = t
	return nil
}

func (s *memoryTicketStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return repository.ErrTicketNotFound
	}
	delete(s.tickets, id)
	return nil
}

func (s *memoryTicketStore) AttachProof(_ context.Context, id, proofURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return repository.ErrTicketNotFound
	}
	t.PaymentProof = &proofURL
	t.PaymentStatus = models.StatusUnderReview
	s.tickets[id] = t
	return nil
}

func (s *memoryTicketStore) DeleteExpiredPending(_ context.Context, now time.Time) ([]int, error) {
	return nil, nil
}

func (s *memoryTicketStore) EligibleForDraw(_ context.Context) ([]models.RaffleTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.RaffleTicket{}
	for _, t := range s.tickets {
		if t.PaymentStatus == models.StatusConfirmed && !t.IsWinner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memoryTicketStore) MarkWinner(_ context.Context, id string, prize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return repository.ErrTicketNotEligible
	}
	t.IsWinner = true
	t.WinningPrize = prize
	s.tickets[id] = t
	return nil
}

func (s *memoryTicketStore) NextPrizeTier(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	highest := 0
	for _, t := range s.tickets {
		if t.IsWinner && t.WinningPrize > highest {
			highest = t.WinningPrize
		}
	}
	return highest + 1, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *memoryTicketStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemoryTicketStore()
	raffle := services.NewRaffleService(store, nil, 50, 30*time.Minute)
	draw := services.NewDrawService(store)
	mirror := live.NewMirror(store)

	h := NewHTTPHandler(raffle, draw, mirror, "pix-key-123", "secret-token", 100, 100)
	r := gin.New()
	h.RegisterPublicRoutes(r)
	h.RegisterAdminRoutes(r)
	return r, store
}

func doJSON(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReserveEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	t.Run("valid reservation returns created tickets", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/raffle/reservations",
			`{"numbers":[5,17],"guestName":"Alice"}`, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}

		var resp struct {
			Tickets []models.RaffleTicket `json:"tickets"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(resp.Tickets) != 2 {
			t.Fatalf("expected 2 tickets, got %d", len(resp.Tickets))
		}
	})

	t.Run("taken number is a conflict", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/raffle/reservations",
			`{"numbers":[17],"guestName":"Bob"}`, nil)
		if w.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("missing name is a bad request", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/raffle/reservations",
			`{"numbers":[3]}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestGridEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	if w := doJSON(r, http.MethodPost, "/api/raffle/reservations",
		`{"numbers":[5],"guestName":"Alice"}`, nil); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w := doJSON(r, http.MethodGet, "/api/raffle/grid", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		TotalNumbers int               `json:"totalNumbers"`
		Cells        []models.GridCell `json:"cells"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalNumbers != 50 || len(resp.Cells) != 50 {
		t.Fatalf("expected a 50-cell grid, got %d cells", len(resp.Cells))
	}
	if !resp.Cells[4].Taken || resp.Cells[4].GuestName != "Alice" {
		t.Errorf("expected cell 5 taken by Alice, got %+v", resp.Cells[4])
	}
	if resp.Cells[0].Taken {
		t.Errorf("expected cell 1 free, got %+v", resp.Cells[0])
	}
}

func TestAdminAuth(t *testing.T) {
	r, store := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/raffle/reservations",
		`{"numbers":[9],"guestName":"Bob"}`, nil)
	var resp struct {
		Tickets []models.RaffleTicket `json:"tickets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Tickets) != 1 {
		t.Fatalf("seed reservation failed: %d %s", w.Code, w.Body.String())
	}
	id := resp.Tickets[0].ID

	t.Run("missing token is unauthorized", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/admin/tickets/"+id+"/confirm", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("valid token confirms the ticket", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/admin/tickets/"+id+"/confirm", "",
			map[string]string{"X-Admin-Token": "secret-token"})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		ticket, err := store.GetTicket(context.Background(), id)
		if err != nil || ticket.PaymentStatus != models.StatusConfirmed {
			t.Fatalf("expected confirmed ticket, got %+v (%v)", ticket, err)
		}
	})

	t.Run("unknown ticket is not found", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/admin/tickets/nope/confirm", "",
			map[string]string{"X-Admin-Token": "secret-token"})
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}

func TestPaymentInfoEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/raffle/payment-info", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		PixKey               string `json:"pixKey"`
		PaymentWindowMinutes int    `json:"paymentWindowMinutes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PixKey != "pix-key-123" || resp.PaymentWindowMinutes != 30 {
		t.Fatalf("unexpected payment info: %+v", resp)
	}
}

func TestReserveRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemoryTicketStore()
	raffle := services.NewRaffleService(store, nil, 50, 30*time.Minute)
	draw := services.NewDrawService(store)
	mirror := live.NewMirror(store)

	// 1 request per second with a burst of 2.
	h := NewHTTPHandler(raffle, draw, mirror, "", "secret", 1, 2)
	r := gin.New()
	h.RegisterPublicRoutes(r)

	codes := []int{}
	for i := 0; i < 3; i++ {
		w := doJSON(r, http.MethodPost, "/api/raffle/reservations",
			fmt.Sprintf(`{"numbers":[%d],"guestName":"Alice"}`, i+1), nil)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated {
		t.Fatalf("expected the burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected the third request to be limited, got %v", codes)
	}
}
