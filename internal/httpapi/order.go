package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/coupon"
	"github.com/xenking/storefront-api/internal/domain/order"
)

// OrderPlacer is the slice of the checkout service the handler needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

type placeOrderRequest struct {
	ShippingAddressID string `json:"shippingAddressId"`
	ShippingMethodID  string `json:"shippingMethodId"`
	Notes             string `json:"notes"`
	Priority          string `json:"priority" binding:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Source            string `json:"source" binding:"omitempty,oneof=WEBSITE MOBILE_APP ADMIN_PANEL"`
	CouponCode        string `json:"couponCode"`
	IdempotencyKey    string `json:"idempotencyKey"`
	UTMSource         string `json:"utmSource"`
	UTMMedium         string `json:"utmMedium"`
	UTMCampaign       string `json:"utmCampaign"`
}

type orderItemResponse struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	VariantID   string  `json:"variantId,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

type statusHistoryResponse struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

type orderResponse struct {
	ID                string                  `json:"id"`
	Status            string                  `json:"status"`
	PaymentStatus     string                  `json:"paymentStatus"`
	Priority          string                  `json:"priority"`
	Source            string                  `json:"source"`
	Subtotal          float64                 `json:"subtotal"`
	Discount          float64                 `json:"discount"`
	Tax               float64                 `json:"tax"`
	Shipping          float64                 `json:"shipping"`
	Total             float64                 `json:"total"`
	CouponCode        string                  `json:"couponCode,omitempty"`
	ShippingAddressID string                  `json:"shippingAddressId,omitempty"`
	ShippingMethodID  string                  `json:"shippingMethodId,omitempty"`
	Items             []orderItemResponse     `json:"items"`
	StatusHistory     []statusHistoryResponse `json:"statusHistory"`
	Notes             []string                `json:"notes,omitempty"`
	IdempotencyKey    string                  `json:"idempotencyKey,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
}

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orders.PlaceOrder(c.Request.Context(), order.PlaceOrderRequest{
		UserID:            id.UserID,
		ShippingAddressID: req.ShippingAddressID,
		ShippingMethodID:  req.ShippingMethodID,
		Notes:             req.Notes,
		Priority:          order.Priority(req.Priority),
		Source:            order.Source(req.Source),
		CouponCode:        req.CouponCode,
		IdempotencyKey:    req.IdempotencyKey,
		ClientIP:          c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		Referrer:          c.Request.Referer(),
		UTMSource:         req.UTMSource,
		UTMMedium:         req.UTMMedium,
		UTMCampaign:       req.UTMCampaign,
	})
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, toOrderResponse(result.Order))
}

// GetOrder handles GET /api/orders/:id. Orders are only visible to their owner.
func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	o, err := h.reader.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		h.renderOrderError(c, err)
		return
	}
	if o.UserID != id.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

// renderOrderError maps domain errors to HTTP responses. Coupon failures are
// distinguished by their tagged type, not by message matching.
func (h *Handler) renderOrderError(c *gin.Context, err error) {
	var cerr *coupon.Error
	if errors.As(err, &cerr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": cerr.Message})
		return
	}

	switch {
	case errors.Is(err, order.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart is empty"})
		return
	case errors.Is(err, order.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipping address"})
		return
	case errors.Is(err, order.ErrInvalidShippingMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipping method"})
		return
	}

	var serr *order.StockError
	if errors.As(err, &serr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": serr.Error()})
		return
	}

	zctx.From(c.Request.Context()).Error("Order placement failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		Priority:          string(o.Priority),
		Source:            string(o.Source),
		Subtotal:          o.Subtotal.InexactFloat64(),
		Discount:          o.Discount.InexactFloat64(),
		Tax:               o.Tax.InexactFloat64(),
		Shipping:          o.Shipping.InexactFloat64(),
		Total:             o.Total.InexactFloat64(),
		CouponCode:        o.CouponCode,
		ShippingAddressID: o.ShippingAddressID,
		ShippingMethodID:  o.ShippingMethodID,
		IdempotencyKey:    o.IdempotencyKey,
		CreatedAt:         o.CreatedAt,
	}
	resp.Items = make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		resp.Items[i] = orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.InexactFloat64(),
		}
	}
	// Lifecycle transitions are customer-visible; the audit metadata stored
	// with each row is not.
	resp.StatusHistory = make([]statusHistoryResponse, len(o.History))
	for i, h := range o.History {
		resp.StatusHistory[i] = statusHistoryResponse{
			From:      string(h.From),
			To:        string(h.To),
			CreatedAt: h.CreatedAt,
		}
	}
	for _, n := range o.Notes {
		if !n.Internal {
			resp.Notes = append(resp.Notes, n.Body)
		}
	}
	return resp
}
