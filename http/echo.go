package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// EchoMiddleware returns the payment gate as an echo middleware.
func (g *Gate) EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := uuid.NewString()

			ref, err := ValidatePaymentHeader(c.Request().Header.Get(PaymentHeader))
			if err != nil {
				return c.JSON(http.StatusPaymentRequired, g.requiredBody(err.Error()))
			}

			result := g.verifier.Verify(c.Request().Context(), ref)
			if !result.Valid {
				g.logger.Info("payment rejected",
					"request_id", requestID,
					"ref", ref,
					"reason", string(result.Reason),
				)
				return c.JSON(http.StatusPaymentRequired, g.rejectedBody(result))
			}

			if err := next(c); err != nil {
				g.verifier.Rollback(c.Request().Context(), ref)
				g.logger.Warn("downstream failed after accepted payment; acceptance rolled back",
					"request_id", requestID,
					"ref", ref,
					"error", err,
				)
				return err
			}

			if c.Response().Status >= http.StatusInternalServerError {
				g.verifier.Rollback(c.Request().Context(), ref)
				g.logger.Warn("downstream failed after accepted payment; acceptance rolled back",
					"request_id", requestID,
					"ref", ref,
					"status", c.Response().Status,
				)
			}
			return nil
		}
	}
}
