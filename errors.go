package receiptgate

import "fmt"

// ProtocolError carries a machine-readable kind and a human-readable message
// for every terminal failure of a paid request. No receipt exists when one of
// these is returned; posting failures are not protocol errors (see Poster).
type ProtocolError struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Error kinds
const (
	// KindPaymentRequired covers a missing, invalid, expired, or mismatched
	// payment proof. The protected operation never ran.
	KindPaymentRequired = "payment_required"
	// KindBadInput covers a missing or malformed service-specific request field.
	KindBadInput = "bad_input"
	// KindOperationFailed covers a failure of the protected operation itself.
	KindOperationFailed = "operation_failed"
)

// Rejection reason codes carried in ProtocolError details.
const (
	ReasonProofMissing   = "proof_missing"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonAssetMismatch  = "asset_mismatch"
	ReasonChainMismatch  = "chain_mismatch"
	ReasonProofExpired   = "proof_expired"
	ReasonProofInvalid   = "proof_invalid"
)

// NewProtocolError creates a protocol error with the given kind and message.
func NewProtocolError(kind, message string, details map[string]interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: message, Details: details}
}

func paymentRequired(reason, message string) *ProtocolError {
	return &ProtocolError{
		Kind:    KindPaymentRequired,
		Message: message,
		Details: map[string]interface{}{"reason": reason},
	}
}

// ErrorResponse is the externally visible shape of a terminal failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FormatError shapes a protocol error into the external error contract.
// Terminal errors never reference a receipt or payment, since none was created.
func FormatError(err *ProtocolError) ErrorResponse {
	return ErrorResponse{Success: false, Kind: err.Kind, Message: err.Message}
}
