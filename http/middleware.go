package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Middleware wraps next behind the payment gate using plain net/http.
//
// Requests without an acceptable proof receive 402 with the
// requirements descriptor. When next reports a server error after an
// accepted payment, the acceptance is rolled back so the caller may
// retry with the same proof.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()

		ref, err := ValidatePaymentHeader(r.Header.Get(PaymentHeader))
		if err != nil {
			g.writePaymentRequired(w, g.requiredBody(err.Error()))
			return
		}

		result := g.verifier.Verify(r.Context(), ref)
		if !result.Valid {
			g.logger.Info("payment rejected",
				"request_id", requestID,
				"ref", ref,
				"reason", string(result.Reason),
			)
			g.writePaymentRequired(w, g.rejectedBody(result))
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		if recorder.status >= http.StatusInternalServerError {
			g.verifier.Rollback(r.Context(), ref)
			g.logger.Warn("downstream failed after accepted payment; acceptance rolled back",
				"request_id", requestID,
				"ref", ref,
				"status", recorder.status,
			)
		}
	})
}

// writePaymentRequired renders a 402 response with the given body.
func (g *Gate) writePaymentRequired(w http.ResponseWriter, body paymentRequiredBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Warn("write 402 response failed", "error", err)
	}
}

// statusRecorder captures the status code written by the downstream
// handler so the gate can decide whether to roll back.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
