package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GinMiddleware returns the payment gate as a gin middleware.
//
// Rollback semantics match Middleware: a 5xx status or a handler error
// recorded on the context after an accepted payment rolls the
// acceptance back.
func (g *Gate) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()

		ref, err := ValidatePaymentHeader(c.GetHeader(PaymentHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, g.requiredBody(err.Error()))
			return
		}

		result := g.verifier.Verify(c.Request.Context(), ref)
		if !result.Valid {
			g.logger.Info("payment rejected",
				"request_id", requestID,
				"ref", ref,
				"reason", string(result.Reason),
			)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, g.rejectedBody(result))
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError || len(c.Errors) > 0 {
			g.verifier.Rollback(c.Request.Context(), ref)
			g.logger.Warn("downstream failed after accepted payment; acceptance rolled back",
				"request_id", requestID,
				"ref", ref,
				"status", c.Writer.Status(),
			)
		}
	}
}
