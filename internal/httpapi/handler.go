// Package httpapi exposes the storefront API over gin.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/xenking/storefront-api/internal/domain/auth"
	"github.com/xenking/storefront-api/internal/domain/cart"
	"github.com/xenking/storefront-api/internal/domain/order"
	"github.com/xenking/storefront-api/internal/postgres"
)

// Handler holds the API's dependencies.
type Handler struct {
	orders   OrderPlacer
	reader   order.Reader
	carts    cart.Repository
	products *postgres.ProductRepository
}

// NewHandler constructs a Handler.
func NewHandler(orders OrderPlacer, reader order.Reader, carts cart.Repository, products *postgres.ProductRepository) *Handler {
	return &Handler{
		orders:   orders,
		reader:   reader,
		carts:    carts,
		products: products,
	}
}

// Router builds the gin engine with all API routes behind authentication.
func (h *Handler) Router(apikeys auth.Repository, pepper []byte) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := r.Group("/api", Auth(apikeys, pepper))
	api.GET("/products", h.ListProducts)
	api.GET("/cart", h.GetCart)
	api.PUT("/cart/items", h.UpsertCartItem)
	api.DELETE("/cart/items/:id", h.RemoveCartItem)
	api.POST("/orders", h.PlaceOrder)
	api.GET("/orders/:id", h.GetOrder)

	return r
}
