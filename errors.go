package paygate

import "fmt"

// ErrorKind classifies why a verification attempt was rejected.
//
// Every rejection from Verifier.Verify is reported as one of these kinds
// inside the VerificationResult; none of them escape the verifier as a
// Go error, so callers can render a user-facing message without a
// generic error handler.
type ErrorKind string

const (
	// KindAlreadyUsed means the transaction reference was accepted as
	// payment before. Replays short-circuit without a ledger call.
	KindAlreadyUsed ErrorKind = "already_used"

	// KindNotFoundOrPending means the ledger has no receipt for the
	// reference yet. The transaction may still be unmined; callers may
	// retry once it confirms.
	KindNotFoundOrPending ErrorKind = "not_found_or_pending"

	// KindTransactionFailed means the transaction was mined but reverted.
	KindTransactionFailed ErrorKind = "transaction_failed"

	// KindRecipientMismatch means no transfer of the configured token to
	// the expected recipient was found in the receipt.
	KindRecipientMismatch ErrorKind = "recipient_mismatch"

	// KindInsufficientAmount means a qualifying transfer exists but its
	// amount is below the policy minimum. The observed amount is still
	// reported on the result.
	KindInsufficientAmount ErrorKind = "insufficient_amount"

	// KindVerificationError means the ledger could not be consulted
	// (transport failure, malformed reference). This is not a
	// ledger-confirmed rejection; callers should retry.
	KindVerificationError ErrorKind = "verification_error"

	// KindPersistenceDegraded marks backing-store failures in log output.
	// It is never a rejection reason: the in-memory processed set stays
	// authoritative for the current process lifetime.
	KindPersistenceDegraded ErrorKind = "persistence_degraded"
)

// PaymentError represents a payment-specific error at a component
// boundary (ledger transport, store I/O). It carries the underlying
// cause for errors.Is/As chains.
type PaymentError struct {
	Kind    ErrorKind              `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new payment error
func NewPaymentError(kind ErrorKind, message string, details map[string]interface{}, err error) *PaymentError {
	return &PaymentError{
		Kind:    kind,
		Message: message,
		Details: details,
		Err:     err,
	}
}
