package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"grocery-order-service/config"
	"grocery-order-service/internal/models"
	"grocery-order-service/internal/service"
	"grocery-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// OrderAPI is the order surface the handlers call. *service.OrderService
// satisfies it.
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResponse, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error)
	PaymentHistory(ctx context.Context, customerID int64) ([]models.Order, error)
	SetStatus(ctx context.Context, orderID int64, next models.OrderStatus) (*models.Order, error)
}

// PaymentAPI applies gateway outcomes. ConfirmFromGateway asks the gateway
// itself; ConfirmPayment trusts the caller and is operator-only.
type PaymentAPI interface {
	ConfirmPayment(ctx context.Context, req *service.ConfirmPaymentRequest) (*models.Order, error)
	ConfirmFromGateway(ctx context.Context, g models.Gateway, transactionID string) (*models.Order, error)
}

// HealthChecker is a dependency pinged by /ready
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderAPI
	payments PaymentAPI
	auth     config.AuthConfig
	gateway  config.GatewayConfig
	checks   map[string]HealthChecker
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders OrderAPI,
	payments PaymentAPI,
	auth config.AuthConfig,
	gateway config.GatewayConfig,
	checks map[string]HealthChecker,
) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		auth:     auth,
		gateway:  gateway,
		checks:   checks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(util.ServiceName))
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Browser redirect from the gateway, carries no bearer token
	router.GET("/api/payments/khalti/callback", h.khaltiCallback)

	authed := router.Group("/api", authMiddleware(h.auth.JWTSecret))
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders/mine", h.myOrders)
		authed.GET("/orders/payment-history", h.paymentHistory)
		authed.POST("/payments/khalti/verify", h.verifyKhalti)
		authed.POST("/payments/confirm", requireAdmin(), h.confirmPayment)

		admin := authed.Group("/orders", requireAdmin())
		admin.GET("", h.listOrders)
		admin.GET("/:id", h.getOrder)
		admin.PUT("/:id", h.updateStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}
	req.CustomerID = customerID(c)

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.ListCustomerOrders(c.Request.Context(), customerID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": nonNil(orders)})
}

func (h *Handler) paymentHistory(c *gin.Context) {
	history, err := h.orders.PaymentHistory(c.Request.Context(), customerID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": nonNil(history)})
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": nonNil(orders)})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	order, err := h.orders.SetStatus(c.Request.Context(), orderID, models.OrderStatus(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) confirmPayment(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	order, err := h.payments.ConfirmPayment(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type verifyRequest struct {
	PIDX string `json:"pidx" binding:"required"`
}

// verifyKhalti lets the storefront settle a Khalti payment after the
// redirect. The outcome comes from Khalti's lookup, not the caller.
func (h *Handler) verifyKhalti(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	order, err := h.payments.ConfirmFromGateway(c.Request.Context(), models.GatewayKhalti, req.PIDX)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// khaltiCallback verifies the redirected pidx with Khalti and sends the
// browser to the storefront's result page. Only pidx is read from the query.
func (h *Handler) khaltiCallback(c *gin.Context) {
	pidx := c.Query("pidx")

	order, err := h.payments.ConfirmFromGateway(c.Request.Context(), models.GatewayKhalti, pidx)
	if err != nil {
		h.logger.Warn("Khalti callback rejected",
			zap.String("transaction_id", pidx),
			zap.Error(err))
		c.Redirect(http.StatusFound, withQuery(h.gateway.FailureRedirectURL, "reason", reasonCode(err)))
		return
	}

	c.Redirect(http.StatusFound, withQuery(h.gateway.SuccessRedirectURL, "orderId", strconv.FormatInt(order.ID, 10)))
}

// badBody answers a request whose body failed to bind. Decoder detail stays
// in the log.
func (h *Handler) badBody(c *gin.Context, err error) {
	h.logger.Debug("Invalid request body",
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return orderID, true
}

func withQuery(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func nonNil(orders []models.Order) []models.Order {
	if orders == nil {
		return []models.Order{}
	}
	return orders
}
