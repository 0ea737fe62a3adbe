package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/auth"
	"import-sourcing/internal/models"
	"import-sourcing/internal/paystack"
	"import-sourcing/internal/service"
	"import-sourcing/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultAwaitTimeout  = 30 * time.Second
	maxAwaitTimeout      = 60 * time.Second
	defaultAwaitInterval = 2 * time.Second
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	intake   *service.IntakeService
	orders   *service.OrderService
	payments *service.PaymentService
	tracking *service.TrackingService
	tokens   *auth.TokenManager
	ready    []Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler. ready lists the dependencies
// checked by /ready.
func NewHandler(
	intake *service.IntakeService,
	orders *service.OrderService,
	payments *service.PaymentService,
	tracking *service.TrackingService,
	tokens *auth.TokenManager,
	ready ...Pinger,
) *Handler {
	return &Handler{
		intake:   intake,
		orders:   orders,
		payments: payments,
		tracking: tracking,
		tokens:   tokens,
		ready:    ready,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(loggerMiddleware(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/payments/webhook", h.paymentWebhook)

	buyer := v1.Group("")
	buyer.Use(authMiddleware(h.tokens, h.logger))
	{
		buyer.POST("/import-requests", h.submitRequest)
		buyer.GET("/import-requests", h.listRequests)
		buyer.GET("/import-requests/:id", h.getRequest)
		buyer.GET("/import-requests/:id/quotes", h.getQuotes)
		buyer.GET("/import-requests/:id/await", h.awaitRequest)
		buyer.POST("/import-requests/:id/cancel", h.cancelRequest)

		buyer.POST("/quotes/:id/select", h.selectQuote)

		buyer.GET("/orders", h.listOrders)
		buyer.GET("/orders/:id", h.getOrderStatus)
		buyer.GET("/orders/:id/history", h.getOrderHistory)
		buyer.GET("/orders/:id/stream", h.streamOrder)
		buyer.POST("/orders/:id/checkout", h.checkout)

		buyer.POST("/payments/initialize", h.initializePayment)
		buyer.POST("/promotions", h.createPromotion)
	}

	admin := buyer.Group("/admin")
	admin.Use(requireAdmin())
	{
		admin.GET("/orders", h.listOrdersByStage)
		admin.POST("/orders/:id/advance", h.advanceOrder)
		admin.POST("/import-requests/:id/retrigger", h.retriggerRequest)
		admin.POST("/import-requests/:id/reject", h.rejectRequest)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	for _, p := range h.ready {
		if err := p.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"time":   time.Now().Unix(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// submitRequest handles import request intake
func (h *Handler) submitRequest(c *gin.Context) {
	in := service.SubmitRequestInput{OwnerID: currentClaims(c).UserID}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badBody(c, err)
		return
	}

	req, err := h.intake.Submit(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) listRequests(c *gin.Context) {
	reqs, err := h.intake.ListByOwner(c.Request.Context(), currentClaims(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"import_requests": reqs})
}

func (h *Handler) getRequest(c *gin.Context) {
	req, err := h.intake.Get(c.Request.Context(), viewer(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) getQuotes(c *gin.Context) {
	grouped, err := h.intake.GetQuotes(c.Request.Context(), viewer(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": grouped})
}

// awaitRequest blocks until sourcing completes or the timeout passes.
// Query params timeout and interval take Go durations ("30s").
func (h *Handler) awaitRequest(c *gin.Context) {
	timeout, err := durationParam(c, "timeout", defaultAwaitTimeout)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if timeout > maxAwaitTimeout {
		timeout = maxAwaitTimeout
	}
	interval, err := durationParam(c, "interval", defaultAwaitInterval)
	if err != nil {
		h.respondError(c, err)
		return
	}

	req, err := h.intake.AwaitCompletion(c.Request.Context(), viewer(c), c.Param("id"), timeout, interval)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"import_request": req,
		"completed":      req.AIProcessed,
	})
}

func (h *Handler) cancelRequest(c *gin.Context) {
	req, err := h.intake.Cancel(c.Request.Context(), currentClaims(c).UserID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) selectQuote(c *gin.Context) {
	order, err := h.orders.SelectQuote(c.Request.Context(), currentClaims(c).UserID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListByOwner(c.Request.Context(), currentClaims(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrderStatus(c *gin.Context) {
	status, err := h.tracking.GetStatus(c.Request.Context(), viewer(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) getOrderHistory(c *gin.Context) {
	newestFirst := c.Query("order") == "desc"
	events, err := h.tracking.GetHistory(c.Request.Context(), viewer(c), c.Param("id"), newestFirst)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// streamOrder pushes live order updates as server-sent events
func (h *Handler) streamOrder(c *gin.Context) {
	ctx := c.Request.Context()
	updates, err := h.tracking.Subscribe(ctx, viewer(c), c.Param("id"))
	if errors.Is(err, service.ErrLiveUpdatesUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates unavailable"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("order_update", string(msg))
			return true
		}
	})
}

func (h *Handler) checkout(c *gin.Context) {
	claims := currentClaims(c)
	body := struct {
		Email string `json:"email" binding:"required,email"`
	}{Email: claims.Email}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badBody(c, err)
			return
		}
	}

	res, err := h.payments.Checkout(c.Request.Context(), claims.UserID, body.Email, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) initializePayment(c *gin.Context) {
	claims := currentClaims(c)
	in := service.InitializePaymentInput{PayerID: claims.UserID, Email: claims.Email}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badBody(c, err)
		return
	}

	res, err := h.payments.InitializePayment(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) createPromotion(c *gin.Context) {
	var body struct {
		ListingID string `json:"listing_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badBody(c, err)
		return
	}

	promo, err := h.payments.CreatePromotion(c.Request.Context(), currentClaims(c).UserID, body.ListingID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, promo)
}

// paymentWebhook receives provider callbacks. The raw body is needed
// unchanged for signature verification.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.badBody(c, err)
		return
	}

	res, err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(paystack.SignatureHeader))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) listOrdersByStage(c *gin.Context) {
	status := models.ShippingStatus(c.Query("shipping_status"))
	orders, err := h.orders.ListByShippingStatus(c.Request.Context(), status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) advanceOrder(c *gin.Context) {
	in := service.AdvanceInput{OrderID: c.Param("id")}
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badBody(c, err)
		return
	}

	event, err := h.tracking.Advance(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *Handler) retriggerRequest(c *gin.Context) {
	req, err := h.intake.Retrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, req)
}

func (h *Handler) rejectRequest(c *gin.Context) {
	req, err := h.intake.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// viewer is the owner scope for reads. Operators see every resource.
func viewer(c *gin.Context) string {
	claims := currentClaims(c)
	if claims.IsAdmin() {
		return ""
	}
	return claims.UserID
}

func durationParam(c *gin.Context, name string, def time.Duration) (time.Duration, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, apperror.Validation(map[string]string{name: "must be a positive duration"})
	}
	return d, nil
}
