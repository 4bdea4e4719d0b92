package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"smarteen-shop/internal/models"
	"smarteen-shop/internal/service"
	"smarteen-shop/internal/store"
	"smarteen-shop/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BillingPortal resolves self-service billing portal URLs.
type BillingPortal interface {
	BillingPortalURL(ctx context.Context, customerID string) (string, error)
}

// Handler contains HTTP handlers
type Handler struct {
	checkout      *service.CheckoutService
	batches       *service.BatchService
	subscriptions *service.SubscriptionService
	webhooks      *service.WebhookDispatcher
	billing       BillingPortal
	store         *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	batches *service.BatchService,
	subscriptions *service.SubscriptionService,
	webhooks *service.WebhookDispatcher,
	billing BillingPortal,
	st *store.Store,
) *Handler {
	return &Handler{
		checkout:      checkout,
		batches:       batches,
		subscriptions: subscriptions,
		webhooks:      webhooks,
		billing:       billing,
		store:         st,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout/session", h.createCheckoutSession)
		v1.POST("/webhooks/stripe", h.stripeWebhook)
		v1.POST("/billing/portal", h.billingPortal)

		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/wait-status", h.getWaitStatus)
		v1.POST("/orders/:id/activate-subscription", h.activateSubscription)

		v1.GET("/users/:id", h.getUser)
		v1.GET("/users/:id/orders", h.getUserOrders)
		v1.GET("/users/:id/subscriptions", h.getUserSubscriptions)
		v1.GET("/users/:id/children", h.getChildren)
		v1.POST("/users/:id/children", h.addChild)

		admin := v1.Group("/admin")
		{
			admin.GET("/batches", h.listBatches)
			admin.POST("/batches/:id/ship", h.shipBatch)
			admin.POST("/batches/:id/complete", h.completeBatch)
			admin.POST("/orders/:id/deliver", h.markDelivered)
			admin.POST("/orders/:id/advance", h.advanceOrder)
			admin.GET("/notifications", h.listNotifications)
		}
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
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createCheckoutSession handles checkout initiation
func (h *Handler) createCheckoutSession(c *gin.Context) {
	var req service.CreateSessionRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sess, err := h.checkout.CreateSession(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create checkout session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	})
}

// stripeWebhook handles signed provider events
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing stripe signature"})
		return
	}

	if err := h.webhooks.Dispatch(c.Request.Context(), payload, signature); err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Non-2xx triggers provider-side redelivery.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook handler failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// billingPortal returns a redirect URL to the gateway's billing portal
func (h *Handler) billingPortal(c *gin.Context) {
	var req struct {
		CustomerID string `json:"customer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Customer ID required"})
		return
	}

	url, err := h.billing.BillingPortalURL(c.Request.Context(), req.CustomerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create billing portal session",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// getOrder handles get order by checkout session id
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// getWaitStatus reports batch progress for an order
func (h *Handler) getWaitStatus(c *gin.Context) {
	status, err := h.batches.QueryWaitStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to query wait status",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// activateSubscription is the delivery-activation endpoint
func (h *Handler) activateSubscription(c *gin.Context) {
	err := h.subscriptions.ActivateOnDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		case errors.Is(err, service.ErrNoLinkedSubscription),
			errors.Is(err, service.ErrOrderNotDelivered):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to activate subscription",
				"details": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Subscription activated successfully",
	})
}

// getUser retrieves a parent account profile
func (h *Handler) getUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// getUserOrders lists a user's orders
func (h *Handler) getUserOrders(c *gin.Context) {
	orders, err := h.checkout.GetUserOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getUserSubscriptions lists a user's subscriptions
func (h *Handler) getUserSubscriptions(c *gin.Context) {
	subs, err := h.subscriptions.GetUserSubscriptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list subscriptions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// getChildren lists a user's configured children
func (h *Handler) getChildren(c *gin.Context) {
	children, err := h.store.GetChildrenByUserID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list children"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"children": children})
}

// addChild adds a child profile under a user
func (h *Handler) addChild(c *gin.Context) {
	var req struct {
		FirstName string    `json:"first_name" binding:"required"`
		BirthDate time.Time `json:"birth_date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	child := &models.Child{
		UserID:    c.Param("id"),
		FirstName: req.FirstName,
		BirthDate: req.BirthDate,
	}
	if err := h.store.CreateChild(c.Request.Context(), child); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add child"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"child": child})
}

// listBatches lists all batches, most recent first
func (h *Handler) listBatches(c *gin.Context) {
	batches, err := h.batches.ListBatches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list batches"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// shipBatch is the operator action that releases a batch for shipment
func (h *Handler) shipBatch(c *gin.Context) {
	batch, err := h.batches.ShipBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Operators see the raw reason to aid manual intervention.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

// completeBatch marks a shipped batch completed
func (h *Handler) completeBatch(c *gin.Context) {
	if err := h.batches.CompleteBatch(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// markDelivered records the physical-delivery signal for an order
func (h *Handler) markDelivered(c *gin.Context) {
	if err := h.checkout.MarkDelivered(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// advanceOrder moves an order forward in its state machine (operator action)
func (h *Handler) advanceOrder(c *gin.Context) {
	var req struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Status required"})
		return
	}

	if err := h.checkout.AdvanceOrder(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// listNotifications lists admin notifications, newest first
func (h *Handler) listNotifications(c *gin.Context) {
	notifications, err := h.store.GetAdminNotifications(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
