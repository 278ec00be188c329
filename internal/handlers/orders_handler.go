package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grocery-orderflow/internal/orders"
	"github.com/imrishuroy/grocery-orderflow/internal/payment"
	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// IdempotencyKeyHeader makes order creation safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

func toCustomer(r validation.CustomerRequest) orders.Customer {
	return orders.Customer{Name: r.Name, Email: r.Email, Phone: r.Phone, Address: r.Address}
}

func toLines(items []validation.ItemRequest) []orders.LineRequest {
	if items == nil {
		return nil
	}
	lines := make([]orders.LineRequest, len(items))
	for i, it := range items {
		lines[i] = orders.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}

func toPatch(req validation.UpdateOrderRequest) orders.Patch {
	patch := orders.Patch{
		Notes:        req.Notes,
		DeliveryDate: req.DeliveryDate,
		Shipping:     req.Shipping,
		Items:        toLines(req.Items),
	}
	if req.Customer != nil {
		cust := toCustomer(*req.Customer)
		patch.Customer = &cust
	}
	if req.Status != nil {
		st := orders.Status(*req.Status)
		patch.Status = &st
	}
	return patch
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()
		p := principal(c)

		var req validation.CreateOrderRequest
		if !bindOrAbort(c, &req) {
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if len(key) > maxIdempotencyKeyLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_idempotency_key", "message": "idempotency key is too long"})
			return
		}

		// No items in the body means "check out my cart".
		lines := toLines(req.Items)
		if len(lines) == 0 {
			var err error
			if lines, err = cfg.Carts.Lines(ctx, p.UserID); err != nil {
				writeError(c, err)
				return
			}
		}

		res, err := cfg.Payments.CreateOrder(ctx, p, payment.CreateOrderInput{
			Customer:       toCustomer(req.Customer),
			Lines:          lines,
			PaymentMethod:  orders.PaymentMethod(req.PaymentMethod),
			Notes:          req.Notes,
			DeliveryDate:   req.DeliveryDate,
			IdempotencyKey: key,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", res.Order.OrderID))
		if res.Replayed {
			c.Header("Idempotent-Replayed", "true")
			c.JSON(http.StatusOK, res)
			return
		}
		c.JSON(http.StatusCreated, res)
	})

	r.GET("/orders", func(c *gin.Context) {
		list, err := cfg.Orders.List(c.Request.Context(), principal(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"), principal(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.PATCH("/orders/:id", func(c *gin.Context) {
		var req validation.UpdateOrderRequest
		if !bindOrAbort(c, &req) {
			return
		}
		o, err := cfg.Orders.Update(c.Request.Context(), c.Param("id"), principal(c), toPatch(req))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.DELETE("/orders/:id", func(c *gin.Context) {
		if err := cfg.Orders.Delete(c.Request.Context(), c.Param("id"), principal(c)); err != nil {
			writeError(c, err)
			return
		}
		noContent(c)
	})
}
