package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// RegisterPaymentRoutes registers the client-driven payment confirmation.
// The same confirmation also runs from the webhook worker.
func RegisterPaymentRoutes(r gin.IRouter, cfg HandlerConfig) {
	r.POST("/payments/confirm", func(c *gin.Context) {
		var req validation.ConfirmPaymentRequest
		if !bindOrAbort(c, &req) {
			return
		}
		p := principal(c)
		o, err := cfg.Payments.ConfirmPayment(c.Request.Context(), req.SessionID, &p)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})
}
