package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// RegisterCartRoutes registers the caller's cart. Carts are keyed by the
// authenticated user id.
func RegisterCartRoutes(r gin.IRouter, cfg HandlerConfig) {
	view := func(c *gin.Context, status int) {
		v, err := cfg.Carts.Get(c.Request.Context(), principal(c).UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(status, v)
	}

	r.GET("/cart", func(c *gin.Context) {
		view(c, http.StatusOK)
	})

	r.POST("/cart/items", func(c *gin.Context) {
		var req validation.AddCartItemRequest
		if !bindOrAbort(c, &req) {
			return
		}
		if _, err := cfg.Carts.Add(c.Request.Context(), principal(c).UserID, req.ProductID, req.Quantity); err != nil {
			writeError(c, err)
			return
		}
		view(c, http.StatusOK)
	})

	r.PUT("/cart/items/:product_id", func(c *gin.Context) {
		var req validation.UpdateCartItemRequest
		if !bindOrAbort(c, &req) {
			return
		}
		if err := cfg.Carts.Update(c.Request.Context(), principal(c).UserID, c.Param("product_id"), req.Quantity); err != nil {
			writeError(c, err)
			return
		}
		view(c, http.StatusOK)
	})

	r.DELETE("/cart/items/:product_id", func(c *gin.Context) {
		if err := cfg.Carts.Remove(c.Request.Context(), principal(c).UserID, c.Param("product_id")); err != nil {
			writeError(c, err)
			return
		}
		view(c, http.StatusOK)
	})

	r.DELETE("/cart", func(c *gin.Context) {
		if err := cfg.Carts.Clear(c.Request.Context(), principal(c).UserID); err != nil {
			writeError(c, err)
			return
		}
		noContent(c)
	})
}
