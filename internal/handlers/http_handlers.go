package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"golang.org/x/time/rate"

	"rifa/internal/live"
	"rifa/internal/models"
	"rifa/internal/repository"
	"rifa/internal/services"
)

const maxProofSize = 10 << 20 // 10MB

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	raffle *services.RaffleService
	draw   *services.DrawService
	mirror *live.Mirror

	pixKey     string
	adminToken string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(raffle *services.RaffleService, draw *services.DrawService, mirror *live.Mirror, pixKey, adminToken string, reserveRPS float64, reserveBurst int) *HTTPHandler {
	return &HTTPHandler{
		raffle:     raffle,
		draw:       draw,
		mirror:     mirror,
		pixKey:     pixKey,
		adminToken: adminToken,
		limiters:   make(map[string]*rate.Limiter),
		rps:        rate.Limit(reserveRPS),
		burst:      reserveBurst,
	}
}

// RegisterPublicRoutes registers the guest-facing routes.
func (h *HTTPHandler) RegisterPublicRoutes(r *gin.Engine) {
	api := r.Group("/api/raffle")
	api.GET("/grid", h.GetGrid)
	api.GET("/payment-info", h.GetPaymentInfo)
	api.GET("/events", h.StreamEvents)
	api.POST("/reservations", h.ReserveLimiter(), h.Reserve)
	api.POST("/tickets/:id/proof", h.SubmitProof)
}

// RegisterAdminRoutes registers the admin dashboard routes behind the token
// middleware.
func (h *HTTPHandler) RegisterAdminRoutes(r *gin.Engine) {
	admin := r.Group("/api/admin")
	admin.Use(h.AdminMiddleware())
	admin.GET("/tickets", h.ListTickets)
	admin.POST("/tickets/:id/confirm", h.ConfirmTicket)
	admin.POST("/tickets/:id/reject", h.RejectTicket)
	admin.DELETE("/tickets/:id", h.RemoveTicket)
	admin.POST("/draw", h.StartDraw)
	admin.GET("/draw", h.GetDrawState)
}

// AdminMiddleware authenticates admin calls with a static bearer token.
// Identity management proper lives outside this service.
func (h *HTTPHandler) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Admin-Token")
		if h.adminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// ReserveLimiter rate-limits reservation attempts per client IP.
func (h *HTTPHandler) ReserveLimiter() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many reservation attempts, slow down"})
			return
		}
		c.Next()
	}
}

func (h *HTTPHandler) limiterFor(ip string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()

	l, ok := h.limiters[ip]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[ip] = l
	}
	return l
}

// GetGrid returns the numbered grid with live taken/winner state. It serves
// from the mirror when loaded and falls back to a direct store read.
func (h *HTTPHandler) GetGrid(c *gin.Context) {
	if tickets, ok := h.mirror.Tickets(); ok {
		c.JSON(http.StatusOK, gin.H{
			"totalNumbers": h.raffle.TotalNumbers(),
			"cells":        services.BuildGrid(h.raffle.TotalNumbers(), tickets),
		})
		return
	}

	cells, err := h.raffle.Grid(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalNumbers": h.raffle.TotalNumbers(),
		"cells":        cells,
	})
}

// GetPaymentInfo returns the static PIX key and the payment window so the
// purchase dialog can render instructions and countdown messaging.
func (h *HTTPHandler) GetPaymentInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pixKey":               h.pixKey,
		"paymentWindowMinutes": int(h.raffle.PaymentWindow().Minutes()),
	})
}

// StreamEvents pushes a grid snapshot over SSE whenever the ticket set
// changes. Every connected client converges on the same store-backed view.
func (h *HTTPHandler) StreamEvents(c *gin.Context) {
	changes, cancel := h.mirror.Subscribe()
	defer cancel()

	send := func() {
		tickets, ok := h.mirror.Tickets()
		if !ok {
			return
		}
		c.SSEvent("grid", gin.H{
			"totalNumbers": h.raffle.TotalNumbers(),
			"cells":        services.BuildGrid(h.raffle.TotalNumbers(), tickets),
		})
	}

	send()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-changes:
			send()
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// ReserveRequest is the purchase form payload.
type ReserveRequest struct {
	Numbers    []int  `json:"numbers" binding:"required"`
	GuestName  string `json:"guestName" binding:"required"`
	GuestEmail string `json:"guestEmail"`
}

// Reserve creates pending tickets for the requested numbers.
func (h *HTTPHandler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "numbers and guestName are required"})
		return
	}

	tickets, err := h.raffle.Reserve(c.Request.Context(), req.Numbers, req.GuestName, req.GuestEmail)
	if err != nil {
		h.raffleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tickets": tickets})
}

// SubmitProof accepts a multipart payment-proof image for a ticket.
func (h *HTTPHandler) SubmitProof(c *gin.Context) {
	file, header, err := c.Request.FormFile("proof")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "proof file is required"})
		return
	}
	defer file.Close()

	if header.Size > maxProofSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "proof image too large"})
		return
	}

	ticket, err := h.raffle.SubmitProof(c.Request.Context(), c.Param("id"),
		header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		h.raffleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// ListTickets returns tickets for the admin dashboard, optionally filtered by
// ?status=.
func (h *HTTPHandler) ListTickets(c *gin.Context) {
	tickets, err := h.raffle.ListTickets(c.Request.Context(), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// ConfirmTicket marks a ticket's payment as verified.
func (h *HTTPHandler) ConfirmTicket(c *gin.Context) {
	if err := h.raffle.Confirm(c.Request.Context(), c.Param("id")); err != nil {
		h.raffleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusConfirmed})
}

// RejectTicket sends a ticket back to pending with its proof cleared.
func (h *HTTPHandler) RejectTicket(c *gin.Context) {
	if err := h.raffle.Reject(c.Request.Context(), c.Param("id")); err != nil {
		h.raffleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusPending})
}

// RemoveTicket deletes a ticket outright, freeing its number.
func (h *HTTPHandler) RemoveTicket(c *gin.Context) {
	if err := h.raffle.Remove(c.Request.Context(), c.Param("id")); err != nil {
		h.raffleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// StartDrawRequest optionally pins the prize tier; zero means next tier.
type StartDrawRequest struct {
	Prize int `json:"prize"`
}

// StartDraw kicks off the rolling animation and eventual winner commit.
func (h *HTTPHandler) StartDraw(c *gin.Context) {
	var req StartDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid draw request"})
		return
	}

	prize, err := h.draw.Start(c.Request.Context(), req.Prize)
	if err != nil {
		h.raffleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"prize": prize, "state": h.draw.State()})
}

// GetDrawState returns the current draw snapshot for the animated reveal.
func (h *HTTPHandler) GetDrawState(c *gin.Context) {
	c.JSON(http.StatusOK, h.draw.State())
}

// raffleError maps domain errors onto HTTP statuses.
func (h *HTTPHandler) raffleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNoNumbersSelected),
		errors.Is(err, services.ErrMissingGuestName),
		errors.Is(err, services.ErrNumberOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrNumberUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, repository.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})

	case errors.Is(err, repository.ErrTicketIsWinner),
		errors.Is(err, services.ErrProofNotAccepted),
		errors.Is(err, services.ErrDrawInProgress),
		errors.Is(err, services.ErrNoEligibleTickets),
		errors.Is(err, repository.ErrPrizeAlreadyDrawn):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	default:
		h.serverError(c, err)
	}
}

func (h *HTTPHandler) serverError(c *gin.Context, err error) {
	logger.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
}
