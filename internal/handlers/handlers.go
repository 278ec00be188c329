// Package handlers is the gin HTTP surface over the order, cart, catalog and
// payment services.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/auth"
	"github.com/imrishuroy/grocery-orderflow/internal/cart"
	"github.com/imrishuroy/grocery-orderflow/internal/catalog"
	"github.com/imrishuroy/grocery-orderflow/internal/inventory"
	"github.com/imrishuroy/grocery-orderflow/internal/logging"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
	"github.com/imrishuroy/grocery-orderflow/internal/payment"
	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Verifier *auth.Verifier
	Orders   *orders.Service
	Payments *payment.Coordinator
	Carts    *cart.Service
	Catalog  catalog.Store
	Ledger   *inventory.Ledger
}

// RegisterRoutes mounts every API route on r. Product reads are public; the
// rest require a bearer token and /admin additionally the admin role.
func RegisterRoutes(r gin.IRouter, cfg HandlerConfig) {
	RegisterProductRoutes(r, cfg)

	authed := r.Group("/", auth.Middleware(cfg.Verifier))
	RegisterOrdersRoutes(authed, cfg)
	RegisterPaymentRoutes(authed, cfg)
	RegisterCartRoutes(authed, cfg)

	admin := r.Group("/admin", auth.Middleware(cfg.Verifier), auth.RequireAdmin())
	RegisterAdminRoutes(admin, cfg)
}

// principal is only called behind auth.Middleware.
func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromGin(c)
	return p
}

// writeError maps err onto the response. Internal failures are logged and
// answered with a generic message.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	entry := logging.FromContext(c).WithError(err)

	if kind == apperr.KindInternal {
		entry.Error("internal error")
		c.JSON(status, gin.H{"error": "internal_error", "message": "internal server error"})
		return
	}
	if kind == apperr.KindGateway {
		entry.Warn("payment gateway call failed")
	}

	code, msg := kind.String(), err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Code != "" {
			code = ae.Code
		}
		msg = ae.Message
	}
	body := gin.H{"error": code, "message": msg}
	if fields := validation.Fields(err); len(fields) > 0 {
		body["fields"] = fields
	}
	c.JSON(status, body)
}

func bindOrAbort(c *gin.Context, out interface{}) bool {
	return validation.BindAndValidate(c, out, validation.Default()) == nil
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
