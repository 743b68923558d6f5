package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/cart"
)

type cartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type cartLineResponse struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	VariantID   string  `json:"variantId,omitempty"`
	VariantName string  `json:"variantName,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

type cartResponse struct {
	Items    []cartLineResponse `json:"items"`
	Subtotal float64            `json:"subtotal"`
}

// GetCart handles GET /api/cart.
func (h *Handler) GetCart(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	lines, err := h.carts.Lines(c.Request.Context(), id.UserID)
	if err != nil {
		h.renderCartError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(lines))
}

// UpsertCartItem handles PUT /api/cart/items.
func (h *Handler) UpsertCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := h.carts.Upsert(c.Request.Context(), id.UserID, req.ProductID, req.VariantID, req.Quantity)
	if err != nil {
		h.renderCartError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartLineResponse(*line))
}

// RemoveCartItem handles DELETE /api/cart/items/:id.
func (h *Handler) RemoveCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	if err := h.carts.Remove(c.Request.Context(), id.UserID, c.Param("id")); err != nil {
		h.renderCartError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) renderCartError(c *gin.Context, err error) {
	zctx.From(c.Request.Context()).Error("Cart operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "cart operation failed"})
}

func toCartResponse(lines []cart.Line) cartResponse {
	resp := cartResponse{Items: make([]cartLineResponse, len(lines))}
	for i, line := range lines {
		resp.Items[i] = toCartLineResponse(line)
	}
	resp.Subtotal = cart.Subtotal(lines).InexactFloat64()
	return resp
}

func toCartLineResponse(line cart.Line) cartLineResponse {
	return cartLineResponse{
		ID:          line.ID,
		ProductID:   line.ProductID,
		ProductName: line.ProductName,
		VariantID:   line.VariantID,
		VariantName: line.VariantName,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice.InexactFloat64(),
	}
}
